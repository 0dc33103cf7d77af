package types

import "github.com/google/uuid"

// NewContainerID generates a UUID v7 container id.
func NewContainerID() ContainerID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return ContainerID(uuid.New().String())
	}
	return ContainerID(id.String())
}

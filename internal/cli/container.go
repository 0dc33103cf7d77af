package cli

import (
	"errors"
	"fmt"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// withContainer opens a container, runs fn and closes the container again.
// An empty name means the --container flag.
func (a *app) withContainer(name string, fn func(c types.Container) error) error {
	c, err := a.openContainer(name)
	if err != nil {
		return classify(fmt.Errorf("open container: %w", err))
	}
	err = fn(c)
	return classify(errors.Join(err, a.lib.CloseContainer(c)))
}

package types

import (
	"fmt"
	"math"
)

// Address locates an object header inside one container.
type Address uint64

// UndefAddress marks a datatype message that is stored inline rather than
// pointing at a committed datatype.
const UndefAddress Address = math.MaxUint64

func (a Address) String() string {
	if a == UndefAddress {
		return "@undef"
	}
	return fmt.Sprintf("@%d", uint64(a))
}

// ContainerID identifies an open container. Ids are UUID v7 strings.
type ContainerID string

// ObjectKind distinguishes the objects a container holds.
type ObjectKind int

const (
	ObjectGroup ObjectKind = iota
	ObjectDataset
	ObjectNamedDatatype
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectGroup:
		return "group"
	case ObjectDataset:
		return "dataset"
	case ObjectNamedDatatype:
		return "datatype"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DatatypeMessage is the datatype a dataset or attribute carries. Encoded
// always holds the full descriptor plus its parent chain. Committed is the
// address of the named datatype the message refers to, or UndefAddress for
// an inline type.
type DatatypeMessage struct {
	Encoded   []byte  `json:"encoded"`
	Committed Address `json:"committed"`
}

// IsCommitted reports whether the message refers to a named datatype.
func (m DatatypeMessage) IsCommitted() bool {
	return m.Committed != UndefAddress
}

// Attribute is a small named value attached to an object header.
type Attribute struct {
	Name string          `json:"name"`
	Type DatatypeMessage `json:"type"`
	Data []byte          `json:"data,omitempty"`
}

// LinkKind distinguishes hard links from soft (path) links.
type LinkKind int

const (
	LinkHard LinkKind = iota
	LinkSoft
)

// Link is one named entry of a group.
type Link struct {
	Name   string   `json:"name"`
	Kind   LinkKind `json:"kind"`
	Addr   Address  `json:"addr,omitempty"`
	Target string   `json:"target,omitempty"`
}

// ObjectHeader is the persistent record of one object.
type ObjectHeader struct {
	Kind ObjectKind `json:"kind"`

	// RefCount counts hard links and datatype messages that refer to this
	// object.
	RefCount int `json:"ref_count"`

	// Type is set for datasets and named datatypes.
	Type *DatatypeMessage `json:"type,omitempty"`

	Attributes []Attribute `json:"attributes,omitempty"`
	Links      []Link      `json:"links,omitempty"`
	Data       []byte      `json:"data,omitempty"`
}

// Clone returns a deep copy of the header.
func (h *ObjectHeader) Clone() *ObjectHeader {
	if h == nil {
		return nil
	}
	c := *h
	if h.Type != nil {
		t := cloneMessage(*h.Type)
		c.Type = &t
	}
	if h.Attributes != nil {
		c.Attributes = make([]Attribute, len(h.Attributes))
		for i, a := range h.Attributes {
			c.Attributes[i] = Attribute{Name: a.Name, Type: cloneMessage(a.Type), Data: append([]byte(nil), a.Data...)}
		}
	}
	if h.Links != nil {
		c.Links = append([]Link(nil), h.Links...)
	}
	if h.Data != nil {
		c.Data = append([]byte(nil), h.Data...)
	}
	return &c
}

func cloneMessage(m DatatypeMessage) DatatypeMessage {
	return DatatypeMessage{Encoded: append([]byte(nil), m.Encoded...), Committed: m.Committed}
}

// Container is the storage layer that committed datatypes and copied
// subtrees live in. Implementations are not required to be safe for
// concurrent use by more than one writer.
type Container interface {
	// ID returns the container's identity. It is stable for the lifetime of
	// the container.
	ID() ContainerID

	// Root returns the address of the root group.
	Root() Address

	// ReadObjectHeader returns a copy of the header at addr.
	// Returns ErrBadAddress if nothing is stored there.
	ReadObjectHeader(addr Address) (*ObjectHeader, error)

	// WriteObjectHeader stores h at addr, which must have been allocated.
	WriteObjectHeader(addr Address, h *ObjectHeader) error

	// AllocateStorage reserves space for an object of the given size.
	// Freed addresses are reused.
	AllocateStorage(size int) (Address, error)

	// FreeStorage releases addr and any header written there.
	FreeStorage(addr Address) error

	// LinkName adds a hard link called name in group parent and increments
	// the target's RefCount. Returns ErrLinkExists on a duplicate name.
	LinkName(parent Address, name string, addr Address) error

	// LinkSoft adds a soft link whose target is a path.
	LinkSoft(parent Address, name, target string) error

	// IterateLinks calls fn for each link of group in name order. Iteration
	// stops at the first error fn returns.
	IterateLinks(group Address, fn func(Link) error) error

	// Close releases the container. Close is idempotent.
	Close() error
}

package dtype

import "fmt"

// Class is the tag of a Datatype. The numbering follows the storage format
// and is part of the comparison order.
type Class int

const (
	ClassInteger Class = iota
	ClassFloat
	ClassTime
	ClassString
	ClassBitfield
	ClassOpaque
	ClassCompound
	ClassReference
	ClassEnum
	ClassVLen
	ClassArray
)

var classNames = map[Class]string{
	ClassInteger:   "integer",
	ClassFloat:     "float",
	ClassTime:      "time",
	ClassString:    "string",
	ClassBitfield:  "bitfield",
	ClassOpaque:    "opaque",
	ClassCompound:  "compound",
	ClassReference: "reference",
	ClassEnum:      "enum",
	ClassVLen:      "vlen",
	ClassArray:     "array",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass returns the Class named s.
func ParseClass(s string) (Class, bool) {
	for c, name := range classNames {
		if name == s {
			return c, true
		}
	}
	return 0, false
}

// IsAtomic reports whether values of the class carry a bit layout.
func (c Class) IsAtomic() bool {
	switch c {
	case ClassInteger, ClassFloat, ClassTime, ClassString, ClassBitfield, ClassReference:
		return true
	}
	return false
}

// ByteOrder of an atomic type.
type ByteOrder int

const (
	OrderLE ByteOrder = iota
	OrderBE
	OrderVAX
	OrderMixed
	OrderNone
)

func (o ByteOrder) String() string {
	switch o {
	case OrderLE:
		return "le"
	case OrderBE:
		return "be"
	case OrderVAX:
		return "vax"
	case OrderMixed:
		return "mixed"
	case OrderNone:
		return ""
	}
	return fmt.Sprintf("order(%d)", int(o))
}

// Pad is the value unused bits are filled with.
type Pad int

const (
	PadZero Pad = iota
	PadOne
	PadBackground
)

// Sign scheme of an integer.
type Sign int

const (
	Unsigned Sign = iota
	Signed
)

// Norm is the mantissa normalization of a float.
type Norm int

const (
	NormImplied Norm = iota
	NormMSBSet
	NormNone
)

// CharSet of a string type.
type CharSet int

const (
	ASCII CharSet = iota
	UTF8
)

func (c CharSet) String() string {
	if c == UTF8 {
		return "utf8"
	}
	return "ascii"
}

// StrPad is the termination scheme of a fixed-length string.
type StrPad int

const (
	NullTerm StrPad = iota
	NullPad
	SpacePad
)

func (p StrPad) String() string {
	switch p {
	case NullPad:
		return "nullpad"
	case SpacePad:
		return "spacepad"
	}
	return "nullterm"
}

// VLenKind distinguishes variable-length sequences from strings.
type VLenKind int

const (
	VLenSequence VLenKind = iota
	VLenString
)

// Loc is where variable-length data and references live.
type Loc int

const (
	LocBad Loc = iota
	LocMemory
	LocDisk
)

func (l Loc) String() string {
	switch l {
	case LocMemory:
		return "memory"
	case LocDisk:
		return "disk"
	}
	return "badloc"
}

// RefKind is the kind of object a reference points at.
type RefKind int

const (
	RefObject RefKind = iota
	RefRegion
)

func (k RefKind) String() string {
	if k == RefRegion {
		return "region"
	}
	return "object"
}

// State is the lifecycle state of a Datatype.
type State int

const (
	// StateTransient types are mutable and not stored anywhere.
	StateTransient State = iota
	// StateReadOnly types can no longer be modified but can be closed.
	StateReadOnly
	// StateImmutable types can be neither modified nor closed.
	StateImmutable
	// StateNamed types are committed to a container but no handle is open.
	StateNamed
	// StateOpen types are committed and held open by at least one handle.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateTransient:
		return "transient"
	case StateReadOnly:
		return "readonly"
	case StateImmutable:
		return "immutable"
	case StateNamed:
		return "named"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

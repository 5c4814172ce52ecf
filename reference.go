package imagecache

import "fmt"

// RefKind tags the variant held by a Reference.
type RefKind int

// Reference variants. The zero value is RefNone.
const (
	RefNone RefKind = iota
	RefRemote
	RefLocal
)

// String implements fmt.Stringer.
func (k RefKind) String() string {
	switch k {
	case RefNone:
		return "none"
	case RefRemote:
		return "remote"
	case RefLocal:
		return "local"
	default:
		return fmt.Sprintf("RefKind(%d)", int(k))
	}
}

// Reference describes where an image should come from. Construct one with
// Remote, Local or None; the zero value is None.
type Reference struct {
	kind  RefKind
	value string
}

// Remote references an image by its locator, either an absolute http(s) URL
// or a path relative to the configured base URL.
func Remote(locator string) Reference {
	return Reference{kind: RefRemote, value: locator}
}

// Local references an image saved on disk under a stable identifier.
func Local(id string) Reference {
	return Reference{kind: RefLocal, value: id}
}

// None is the absence of an image.
func None() Reference {
	return Reference{}
}

// Kind returns the variant.
func (r Reference) Kind() RefKind {
	return r.kind
}

// Value returns the locator or identifier. It is empty for None.
func (r Reference) Value() string {
	return r.value
}

// String implements fmt.Stringer.
func (r Reference) String() string {
	if r.kind == RefNone {
		return "none"
	}
	return r.kind.String() + ":" + r.value
}

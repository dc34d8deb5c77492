package registry

import (
	"fmt"

	"github.com/google/uuid"
)

// UnknownNameError reports a lookup for a name that is not registered.
type UnknownNameError struct {
	Name     string
	Registry string
}

func (e *UnknownNameError) Error() string {
	return fmt.Sprintf("no entry named %q in %s registry", e.Name, e.Registry)
}

// UnknownKeyError reports a lookup for a UUID key that is not registered.
type UnknownKeyError struct {
	Key      uuid.UUID
	Registry string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("no entry with key %s in %s registry", e.Key, e.Registry)
}

// DuplicateError reports a register or rename that collides with an
// existing name or key.
type DuplicateError struct {
	What string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s is already registered", e.What)
}

// ProtectedError reports an attempt to delete a built-in entry.
// Protected entries can be renamed but never deleted.
type ProtectedError struct {
	Name string
}

func (e *ProtectedError) Error() string {
	return fmt.Sprintf("%q is a protected (built-in) entry and cannot be deleted; its label can still be renamed", e.Name)
}

// OrphanError reports a delete that would leave holders with a
// dangling key. Pass a migrate_to name to reassign them first.
type OrphanError struct {
	Name     string
	RefCount int
	Holders  []string
}

func (e *OrphanError) Error() string {
	preview := e.Holders
	suffix := ""
	if len(preview) > 5 {
		preview = preview[:5]
		suffix = "..."
	}
	noun := "holders"
	if e.RefCount == 1 {
		noun = "holder"
	}
	return fmt.Sprintf(
		"cannot delete %q: %d %s still reference it; pass migrate_to to reassign them first (referencing: %v%s)",
		e.Name, e.RefCount, noun, preview, suffix,
	)
}

package pipeline

import "github.com/google/uuid"

// newID is the default id generator: unique-identifier generation is an
// external collaborator per spec.md §1, so the core delegates to a
// well-known generator rather than implementing its own.
func newID() string {
	return uuid.NewString()
}

// Package id defines the TypeID-based worker identity used as the claim
// owner recorded on job rows.
//
// Worker IDs are K-sortable (UUIDv7-based), globally unique, and URL-safe in
// the format "wkr_suffix". Two worker processes can never collide, so a row's
// claimed_by column unambiguously names the worker that claimed it.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// prefixWorker is the TypeID prefix for worker identities.
const prefixWorker = "wkr"

// WorkerID identifies one worker loop instance.
type WorkerID struct {
	inner typeid.TypeID
	valid bool
}

// NewWorkerID generates a new globally unique worker identity.
func NewWorkerID() WorkerID {
	tid, err := typeid.Generate(prefixWorker)
	if err != nil {
		// The prefix is a compile-time constant; failure is a programming error.
		panic(fmt.Sprintf("id: generate worker id: %v", err))
	}
	return WorkerID{inner: tid, valid: true}
}

// ParseWorkerID parses a worker ID string (e.g.
// "wkr_01h2xcejqtf2nbrexx3vqjhp41") and validates its prefix.
func ParseWorkerID(s string) (WorkerID, error) {
	if s == "" {
		return WorkerID{}, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return WorkerID{}, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if tid.Prefix() != prefixWorker {
		return WorkerID{}, fmt.Errorf("id: expected prefix %q, got %q", prefixWorker, tid.Prefix())
	}
	return WorkerID{inner: tid, valid: true}, nil
}

// String returns the canonical "wkr_suffix" form, or "" for the zero value.
func (w WorkerID) String() string {
	if !w.valid {
		return ""
	}
	return w.inner.String()
}

// IsNil reports whether w is the zero value.
func (w WorkerID) IsNil() bool { return !w.valid }

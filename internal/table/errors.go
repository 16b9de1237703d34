package table

import (
	"errors"
	"fmt"

	"github.com/dreamware/dtable/internal/store"
)

var (
	// ErrConfiguration matches every *ConfigurationError
	ErrConfiguration = errors.New("configuration error")

	// ErrInfrastructure matches every *InfrastructureError
	ErrInfrastructure = errors.New("infrastructure error")

	// ErrSerializationBoundary matches every *SerializationBoundaryError
	ErrSerializationBoundary = errors.New("serialization boundary error")
)

// ConfigurationError reports a table that cannot exist as described: a bad
// identity, no representation at all, or use after Destroy. It is never
// worth retrying.
type ConfigurationError struct {
	Op       string
	Identity Identity
	Reason   string
	Err      error // optional cause, e.g. store.ErrTableNotFound
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %s/%s: %s", e.Op, e.Identity.Namespace, e.Identity.Name, e.Reason)
}

func (e *ConfigurationError) Unwrap() error        { return e.Err }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// InfrastructureError wraps a failure of the store or the engine.
type InfrastructureError struct {
	Op       string
	Identity Identity
	Err      error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Identity.Namespace, e.Identity.Name, e.Err)
}

func (e *InfrastructureError) Unwrap() error        { return e.Err }
func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

// SerializationBoundaryError reports a handle that only lived in memory and
// was restored in a process that cannot see that memory.
type SerializationBoundaryError struct {
	Identity Identity
}

func (e *SerializationBoundaryError) Error() string {
	return fmt.Sprintf("table %s/%s was memory-only and cannot be restored; materialize it before transfer",
		e.Identity.Namespace, e.Identity.Name)
}

func (e *SerializationBoundaryError) Is(target error) bool { return target == ErrSerializationBoundary }

func configErr(op string, id Identity, reason string) error {
	return &ConfigurationError{Op: op, Identity: id, Reason: reason}
}

// wrapErr classifies a collaborator error. Writes to a destroyed store table
// and name clashes are usage errors; everything else is infrastructure.
func wrapErr(op string, id Identity, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, store.ErrTableDestroyed) {
		return &ConfigurationError{Op: op, Identity: id, Reason: "table destroyed", Err: err}
	}
	if errors.Is(err, store.ErrTableExists) || errors.Is(err, store.ErrTableNotFound) {
		return &ConfigurationError{Op: op, Identity: id, Reason: err.Error(), Err: err}
	}
	return &InfrastructureError{Op: op, Identity: id, Err: err}
}

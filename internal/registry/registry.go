// Package registry tracks the identity of every table known to a process:
// which (namespace, name) pairs exist and how many partitions each has.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/dtable/internal/storage"
)

var (
	// ErrNotRegistered is returned when a (namespace, name) pair is unknown
	ErrNotRegistered = errors.New("table not registered")

	// ErrInvalidIdentity is returned when an identity fails validation
	ErrInvalidIdentity = errors.New("invalid table identity")
)

// Identity is the logical identity of a table. It is the same whichever
// representation currently holds the data.
type Identity struct {
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s(%d)", id.Namespace, id.Name, id.Partitions)
}

// Validate checks that the identity can name a table.
func (id Identity) Validate() error {
	switch {
	case id.Namespace == "":
		return fmt.Errorf("%w: namespace is required", ErrInvalidIdentity)
	case id.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidIdentity)
	case id.Partitions <= 0:
		return fmt.Errorf("%w: partitions must be positive, got %d", ErrInvalidIdentity, id.Partitions)
	}
	return nil
}

type tableKey struct {
	namespace string
	name      string
}

// Registry maps (namespace, name) to table identities and remembers the
// default partition count for new tables.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│            Registry                 │
//	├─────────────────────────────────────┤
//	│  tables: (ns, name) → Identity      │
//	│  catalog: storage.Store (optional)  │
//	│  mu: RWMutex for thread safety      │
//	└─────────────────────────────────────┘
//
// When a catalog store is given every change is written through to it as a
// JSON document, so a registry over a bolt bucket survives restarts.
// Identities are plain values; callers never share registry state.
type Registry struct {
	mu                sync.RWMutex
	tables            map[tableKey]Identity
	catalog           storage.Store
	defaultPartitions int
}

// New creates a registry and loads any identities already in the catalog.
//
// Parameters:
//   - catalog: store holding persisted identities, or nil for a volatile registry
//   - defaultPartitions: partition count for tables opened without one (must be > 0)
//
// Example:
//
//	reg, err := registry.New(catalogBucket, 4)
//	if err != nil {
//	    return err
//	}
func New(catalog storage.Store, defaultPartitions int) (*Registry, error) {
	if defaultPartitions <= 0 {
		return nil, fmt.Errorf("default partitions must be positive, got %d", defaultPartitions)
	}
	r := &Registry{
		tables:            make(map[tableKey]Identity),
		catalog:           catalog,
		defaultPartitions: defaultPartitions,
	}
	if catalog == nil {
		return r, nil
	}

	var decodeErr error
	err := catalog.Range(func(key string, value []byte) bool {
		var id Identity
		if err := json.Unmarshal(value, &id); err != nil {
			decodeErr = fmt.Errorf("decode catalog entry %q: %w", key, err)
			return false
		}
		r.tables[tableKey{id.Namespace, id.Name}] = id
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return r, nil
}

func catalogKey(namespace, name string) string {
	return namespace + "\x00" + name
}

// Register records an identity, replacing any previous entry for the same
// (namespace, name).
func (r *Registry) Register(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog != nil {
		doc, err := json.Marshal(id)
		if err != nil {
			return fmt.Errorf("encode identity: %w", err)
		}
		if err := r.catalog.Put(catalogKey(id.Namespace, id.Name), doc); err != nil {
			return fmt.Errorf("persist identity %s: %w", id, err)
		}
	}
	r.tables[tableKey{id.Namespace, id.Name}] = id
	return nil
}

// Lookup returns the identity registered under (namespace, name)
func (r *Registry) Lookup(namespace, name string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.tables[tableKey{namespace, name}]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s/%s", ErrNotRegistered, namespace, name)
	}
	return id, nil
}

// Remove forgets a table. Removing an unknown table is not an error.
func (r *Registry) Remove(namespace, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog != nil {
		if err := r.catalog.Delete(catalogKey(namespace, name)); err != nil {
			return fmt.Errorf("remove identity %s/%s: %w", namespace, name, err)
		}
	}
	delete(r.tables, tableKey{namespace, name})
	return nil
}

// List returns the identities in namespace sorted by name. An empty
// namespace lists every table, sorted by namespace then name.
func (r *Registry) List(namespace string) []Identity {
	r.mu.RLock()
	out := make([]Identity, 0, len(r.tables))
	for k, id := range r.tables {
		if namespace == "" || k.namespace == namespace {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Identity) int {
		if c := strings.Compare(a.Namespace, b.Namespace); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// DefaultPartitions returns the partition count used when none is given
func (r *Registry) DefaultPartitions() int {
	return r.defaultPartitions
}

// NewName generates a unique table name. Names are time-based UUIDs so
// that generated tables sort roughly by creation time.
func (r *Registry) NewName() string {
	return NewName()
}

// NewName generates a time-based UUID string.
func NewName() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

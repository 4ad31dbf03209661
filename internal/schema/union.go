// Package schema accumulates the union of field names seen across
// normalized records. The union is the searchable field set of the index.
package schema

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/samber/lo"
)

// Union is a monotonically growing set of field names. It is not safe for
// concurrent mutation; callers serialize Observe.
type Union struct {
	names  map[string]struct{}
	frozen bool
}

// NewUnion returns an empty union.
func NewUnion() *Union {
	return &Union{names: make(map[string]struct{})}
}

// Observe adds every field name of rec. It fails once the union is frozen.
func (u *Union) Observe(rec record.Record) error {
	if u.frozen {
		return fmt.Errorf("observing %d fields: %w", len(rec), apperrors.ErrSchemaFrozen)
	}
	for name := range rec {
		u.names[name] = struct{}{}
	}
	return nil
}

// Freeze marks the union read-only and returns its sorted field names.
func (u *Union) Freeze() []string {
	u.frozen = true
	return u.Fields()
}

// Frozen reports whether Freeze has been called.
func (u *Union) Frozen() bool {
	return u.frozen
}

// Fields returns the sorted field names.
func (u *Union) Fields() []string {
	names := lo.Keys(u.names)
	sort.Strings(names)
	return names
}

// Contains reports whether name has been observed.
func (u *Union) Contains(name string) bool {
	_, ok := u.names[name]
	return ok
}

// Len returns the number of distinct field names.
func (u *Union) Len() int {
	return len(u.names)
}

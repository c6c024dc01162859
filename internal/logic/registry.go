package logic

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stratline/internal/domain"
)

// ErrConditionNotFound is returned when a registry lookup misses.
var ErrConditionNotFound = errors.New("condition not found")

// NewID allocates a fresh id for a condition or group.
func NewID() string {
	return uuid.NewString()
}

// Registry is the ordered set of conditions of one strategy. A Registry value is never
// modified after it is built; every method that changes it returns a new slice.
type Registry []domain.Condition

// CreateCondition returns a new enabled condition of type t with that type's default payload.
func CreateCondition(t domain.ConditionType, asset string) domain.Condition {
	return domain.Condition{
		ID:      NewID(),
		Type:    t,
		Enabled: domain.BoolPtr(true),
		Payload: domain.DefaultPayload(t, asset),
	}
}

func (r Registry) Len() int { return len(r) }

func (r Registry) Index(id string) int {
	for i, c := range r {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (r Registry) Get(id string) (domain.Condition, bool) {
	if i := r.Index(id); i >= 0 {
		return r[i], true
	}
	return domain.Condition{}, false
}

// Has reports whether id is present.
func (r Registry) Has(id string) bool { return r.Index(id) >= 0 }

// Add appends c.
func (r Registry) Add(c domain.Condition) Registry {
	out := make(Registry, len(r), len(r)+1)
	copy(out, r)
	return append(out, c)
}

// Update applies patch to the condition with the given id. A type change replaces the
// payload with the new type's defaults before any payload fields in the patch are applied;
// otherwise payload fields are merged into the existing payload.
func (r Registry) Update(id string, patch domain.ConditionPatch, defaultAsset string) (Registry, error) {
	i := r.Index(id)
	if i < 0 {
		return r, fmt.Errorf("%w: %s", ErrConditionNotFound, id)
	}
	c := r[i]
	if patch.Type != nil && *patch.Type != c.Type {
		c.Type = *patch.Type
		c.Payload = domain.DefaultPayload(c.Type, defaultAsset)
	}
	if patch.Label != nil {
		c.Label = *patch.Label
	}
	if patch.Enabled != nil {
		c.Enabled = domain.BoolPtr(*patch.Enabled)
	}
	if len(patch.Payload) > 0 {
		p, err := domain.MergePayload(c.Type, c.Payload, patch.Payload)
		if err != nil {
			return r, fmt.Errorf("update condition %s: %w", id, err)
		}
		c.Payload = p
	}
	out := make(Registry, len(r))
	copy(out, r)
	out[i] = c
	return out, nil
}

// Replace swaps in c by id. Unknown ids leave the registry unchanged.
func (r Registry) Replace(c domain.Condition) Registry {
	i := r.Index(c.ID)
	if i < 0 {
		return r
	}
	out := make(Registry, len(r))
	copy(out, r)
	out[i] = c
	return out
}

// Remove drops every entry with the given id.
func (r Registry) Remove(id string) Registry {
	out := make(Registry, 0, len(r))
	for _, c := range r {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

package feature

import (
	"fmt"
	"sort"
	"strings"
)

// Builder collects features before the registry is frozen.
// It is not safe for concurrent use.
type Builder struct {
	features map[string]*Feature
	built    bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{features: make(map[string]*Feature)}
}

// Register adds a feature.
//
// Returns ErrDuplicateFeature if the id is already present, or
// ErrInvalidFeature if the id, category, description or protocol set is
// missing, or an exclusion carries no reason.
func (b *Builder) Register(f Feature) error {
	if b.built {
		return ErrRegistryBuilt
	}
	if err := validate(&f); err != nil {
		return err
	}
	if _, exists := b.features[f.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, f.ID)
	}
	cp := copyFeature(&f)
	b.features[f.ID] = &cp
	return nil
}

// Build freezes the collected features into a Registry. The builder
// cannot be used afterwards.
func (b *Builder) Build() *Registry {
	b.built = true
	r := &Registry{
		features: b.features,
		ids:      make([]string, 0, len(b.features)),
	}
	for id := range b.features {
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	b.features = nil
	return r
}

func validate(f *Feature) error {
	var problems []string
	if strings.TrimSpace(f.ID) == "" {
		problems = append(problems, "id is required")
	}
	if !validCategories[f.Category] {
		problems = append(problems, fmt.Sprintf("category %q is invalid", f.Category))
	}
	if strings.TrimSpace(f.Description) == "" {
		problems = append(problems, "description is required")
	}
	for p, reason := range f.Exclusions {
		if strings.TrimSpace(reason) == "" {
			problems = append(problems, fmt.Sprintf("exclusion of %s needs a reason", p))
		}
	}
	supported := false
	for _, p := range f.Protocols.List() {
		if _, excluded := f.Exclusions[p]; !excluded {
			supported = true
			break
		}
	}
	if !supported {
		problems = append(problems, "at least one protocol must be supported")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidFeature, f.ID, strings.Join(problems, "; "))
	}
	return nil
}

// Registry is the immutable feature table. All methods are safe for
// concurrent use because nothing mutates it after Build.
type Registry struct {
	features map[string]*Feature
	ids      []string
}

// NewRegistry registers every feature and builds the registry.
func NewRegistry(features ...Feature) (*Registry, error) {
	b := NewBuilder()
	for _, f := range features {
		if err := b.Register(f); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Lookup returns a copy of the feature with the given id.
func (r *Registry) Lookup(id string) (Feature, error) {
	f, ok := r.features[id]
	if !ok {
		return Feature{}, fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
	}
	return copyFeature(f), nil
}

// IsProtocolSupported reports whether feature id may be written to p.
// Unknown ids are never supported.
func (r *Registry) IsProtocolSupported(id string, p Protocol) bool {
	f, ok := r.features[id]
	if !ok {
		return false
	}
	return f.Supports(p)
}

// Topic returns the MQTT topic of feature id for the given index,
// or "" when the feature is unknown or has no MQTT binding.
func (r *Registry) Topic(id string, index int) string {
	f, ok := r.features[id]
	if !ok {
		return ""
	}
	return f.Topic(index)
}

// Len returns the number of registered features.
func (r *Registry) Len() int {
	return len(r.ids)
}

// All returns every feature sorted by id.
func (r *Registry) All() []Feature {
	out := make([]Feature, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, copyFeature(r.features[id]))
	}
	return out
}

// ByCategory returns the features of one category sorted by id.
func (r *Registry) ByCategory(c Category) []Feature {
	var out []Feature
	for _, id := range r.ids {
		if f := r.features[id]; f.Category == c {
			out = append(out, copyFeature(f))
		}
	}
	return out
}

// Filter returns features matching fn, sorted by id.
func (r *Registry) Filter(fn func(*Feature) bool) []Feature {
	var out []Feature
	for _, id := range r.ids {
		cp := copyFeature(r.features[id])
		if fn(&cp) {
			out = append(out, cp)
		}
	}
	return out
}

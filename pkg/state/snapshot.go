package state

// Snapshot is the serializable attribute state of one component instance at
// one point in time. It is created per render and discarded after encode.
type Snapshot struct {
	// Component is the component's registered type name.
	Component string

	// InstanceID distinguishes multiple instances of one component type
	// on a page.
	InstanceID string

	// Attrs is the persisted attribute set. Attributes recorded during
	// the load phase are already excluded.
	Attrs map[string]any

	// LoadDeps lists attribute names whose referenced entity must still
	// exist for the snapshot to be usable. Decoding a snapshot whose
	// load-dependency entity is gone fails with ErrStateRefresh instead
	// of silently nulling the field.
	LoadDeps []string
}

// Component is the marker interface framework component state types
// implement. The deserializer only reconstructs component values whose
// registered factory produces this interface; a name match alone is never
// sufficient.
type Component interface {
	// ComponentName returns the registered component type name.
	ComponentName() string

	// StateMap returns the component's serializable state.
	StateMap() map[string]any

	// SetStateMap rehydrates the component from decoded state.
	SetStateMap(m map[string]any)
}

// SnapshotBuilder accumulates component attributes for one render and
// separates load-phase attributes from persisted ones. It replaces any
// ambient "currently loading" flag: the load phase receives an explicit
// recorder, and only attributes set outside it are persisted.
//
// Builders are single-goroutine; one is created per render.
type SnapshotBuilder struct {
	component  string
	instanceID string
	attrs      map[string]any
	transient  map[string]struct{}
	loadDeps   map[string]struct{}
}

// NewSnapshotBuilder creates a builder for one component instance.
func NewSnapshotBuilder(component, instanceID string) *SnapshotBuilder {
	return &SnapshotBuilder{
		component:  component,
		instanceID: instanceID,
		attrs:      make(map[string]any),
		transient:  make(map[string]struct{}),
		loadDeps:   make(map[string]struct{}),
	}
}

// Set stores a persisted attribute.
func (b *SnapshotBuilder) Set(key string, value any) {
	b.attrs[key] = value
	delete(b.transient, key)
}

// LoadPhase runs fn with a recorder; every attribute the recorder sets is
// available during the render but excluded from persistence.
func (b *SnapshotBuilder) LoadPhase(fn func(r *LoadRecorder)) {
	fn(&LoadRecorder{b: b})
}

// DependOn marks an attribute as a load dependency: the entity it
// references must exist when the snapshot is decoded.
func (b *SnapshotBuilder) DependOn(key string) {
	b.loadDeps[key] = struct{}{}
}

// Get returns an attribute (persisted or transient).
func (b *SnapshotBuilder) Get(key string) (any, bool) {
	v, ok := b.attrs[key]
	return v, ok
}

// Snapshot produces the persisted snapshot, excluding load-phase
// attributes.
func (b *SnapshotBuilder) Snapshot() *Snapshot {
	attrs := make(map[string]any, len(b.attrs))
	for k, v := range b.attrs {
		if _, skip := b.transient[k]; skip {
			continue
		}
		attrs[k] = v
	}

	var deps []string
	for k := range b.loadDeps {
		if _, ok := attrs[k]; ok {
			deps = append(deps, k)
		}
	}

	return &Snapshot{
		Component:  b.component,
		InstanceID: b.instanceID,
		Attrs:      attrs,
		LoadDeps:   deps,
	}
}

// LoadRecorder records attributes set during a component's load phase.
// Everything it sets is transient: visible to the render, absent from the
// persisted snapshot.
type LoadRecorder struct {
	b *SnapshotBuilder
}

// Set stores a transient attribute.
func (r *LoadRecorder) Set(key string, value any) {
	r.b.attrs[key] = value
	r.b.transient[key] = struct{}{}
}

package reactive

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetra-web/tetra/pkg/entity"
	"github.com/tetra-web/tetra/pkg/realtime"
)

// EntityHook publishes realtime events around one entity type's mutation
// lifecycle. Creates go to the type's collection group, updates and
// deletes to the instance group `type.id`, deletes additionally to the
// collection group pointing back at the instance group.
//
// Pushed data is never the raw entity: only the id plus fields the host
// explicitly opted into via WithProjection.
type EntityHook struct {
	dispatcher *realtime.Dispatcher
	entityType string
	projection []string

	// versions provides advisory per-instance ordering metadata for
	// client-side out-of-order detection. Nothing server-side enforces
	// it.
	mu       sync.Mutex
	versions map[string]uint64
}

// HookOption configures an EntityHook.
type HookOption func(*EntityHook)

// WithProjection opts fields into the pushed payload. Without it only
// the id is pushed.
func WithProjection(fields ...string) HookOption {
	return func(h *EntityHook) { h.projection = fields }
}

// NewEntityHook creates the hook for one entity type and registers the
// type's collection group and instance-group pattern with the registry.
//
// validFields is the type's field schema. Opting a field into the
// projection that the schema does not contain is a configuration error
// caught here, not a silent runtime skip.
func NewEntityHook(d *realtime.Dispatcher, entityType string, validFields []string, registry *realtime.GroupRegistry, opts ...HookOption) (*EntityHook, error) {
	if entityType == "" {
		return nil, fmt.Errorf("reactive: entity type required")
	}

	h := &EntityHook{
		dispatcher: d,
		entityType: entityType,
		versions:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(h)
	}

	if len(h.projection) > 0 && validFields != nil {
		known := make(map[string]bool, len(validFields))
		for _, f := range validFields {
			known[f] = true
		}
		for _, f := range h.projection {
			if !known[f] {
				return nil, fmt.Errorf("reactive: projection field %q not in %s schema", f, entityType)
			}
		}
	}

	if registry != nil {
		registry.Register(entityType)
		registry.RegisterPattern(entityType + ".*")
	}
	return h, nil
}

// CollectionGroup returns the group addressed on create.
func (h *EntityHook) CollectionGroup() string {
	return h.entityType
}

// InstanceGroup returns the group addressed on update and delete.
func (h *EntityHook) InstanceGroup(id string) string {
	return h.entityType + "." + id
}

// OnCreate publishes component.created to the collection group.
func (h *EntityHook) OnCreate(ctx context.Context, e entity.Entity) error {
	return h.dispatcher.ComponentCreated(ctx,
		h.CollectionGroup(),
		e.EntityID(),
		h.project(e),
		CorrelationID(ctx))
}

// OnUpdate publishes component.data_changed to the instance group with
// an incrementing version counter.
func (h *EntityHook) OnUpdate(ctx context.Context, e entity.Entity) error {
	data := h.project(e)
	data["version"] = h.nextVersion(e.EntityID())

	return h.dispatcher.UpdateData(ctx,
		h.InstanceGroup(e.EntityID()),
		data,
		CorrelationID(ctx))
}

// OnDelete publishes component.removed to the instance group and to the
// collection group, the latter carrying target_group so collection
// subscribers know which instance group just died.
func (h *EntityHook) OnDelete(ctx context.Context, e entity.Entity) error {
	id := e.EntityID()
	instance := h.InstanceGroup(id)
	corr := CorrelationID(ctx)

	if err := h.dispatcher.ComponentRemove(ctx, instance, id, "", corr); err != nil {
		return err
	}
	if err := h.dispatcher.ComponentRemove(ctx, h.CollectionGroup(), id, instance, corr); err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.versions, id)
	h.mu.Unlock()
	return nil
}

func (h *EntityHook) project(e entity.Entity) map[string]any {
	data := map[string]any{"id": e.EntityID()}
	for _, f := range h.projection {
		if v, ok := e.Field(f); ok {
			data[f] = v
		}
	}
	return data
}

func (h *EntityHook) nextVersion(id string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.versions[id]++
	return h.versions[id]
}

package refcodec

import (
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tetra-web/tetra/pkg/entity"
	"github.com/tetra-web/tetra/pkg/upload"
)

// Built-in reference prefixes.
const (
	PrefixEntity    = "entity"
	PrefixQuery     = "query"
	PrefixFileField = "filefield"
	PrefixUpload    = "upload"
	PrefixFragment  = "fragment"
)

// RegisterBuiltins registers the standard reference kinds against the given
// entity store and query runner. The runner may be nil when the application
// never snapshots queries.
func RegisterBuiltins(r *Registry, store entity.Store, runner entity.QueryRunner) {
	r.Register(&EntityCodec{Store: store})
	r.Register(&QueryCodec{Runner: runner})
	r.Register(&FileFieldCodec{Store: store})
	r.Register(&TempUploadCodec{})
	r.Register(&FragmentCodec{})
}

// EntityCodec persists an entity as (type, id) and reloads it on decode.
// A deleted entity decodes to nil, never an error; concurrent deletion is
// an expected condition, not a failure.
type EntityCodec struct {
	Store entity.Store
}

type entityDescriptor struct {
	Type string `msgpack:"t"`
	ID   string `msgpack:"i"`
}

func (c *EntityCodec) Prefix() string { return PrefixEntity }

func (c *EntityCodec) Type() reflect.Type {
	return reflect.TypeOf((*entity.Entity)(nil)).Elem()
}

func (c *EntityCodec) Encode(v any) ([]byte, error) {
	e, ok := v.(entity.Entity)
	if !ok {
		return nil, nil
	}
	return msgpack.Marshal(&entityDescriptor{Type: e.EntityType(), ID: e.EntityID()})
}

func (c *EntityCodec) Decode(ctx context.Context, data []byte) (any, error) {
	var d entityDescriptor
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("refcodec: entity descriptor: %w", err)
	}

	e, err := c.Store.Get(ctx, d.Type, d.ID)
	if err != nil {
		return nil, fmt.Errorf("refcodec: reload %s.%s: %w", d.Type, d.ID, err)
	}
	if e == nil {
		// Entity deleted since encode: null placeholder.
		return nil, nil
	}
	return e, nil
}

// QueryCodec persists a deferred query as (type, descriptor) without its
// results; decode rebinds the runner and results rebuild lazily.
type QueryCodec struct {
	Runner entity.QueryRunner
}

type queryDescriptor struct {
	Type       string         `msgpack:"t"`
	Descriptor map[string]any `msgpack:"d"`
}

func (c *QueryCodec) Prefix() string { return PrefixQuery }

func (c *QueryCodec) Type() reflect.Type {
	return reflect.TypeOf((*entity.Query)(nil))
}

func (c *QueryCodec) Encode(v any) ([]byte, error) {
	q, ok := v.(*entity.Query)
	if !ok {
		return nil, nil
	}
	return msgpack.Marshal(&queryDescriptor{Type: q.Type, Descriptor: q.Descriptor})
}

func (c *QueryCodec) Decode(ctx context.Context, data []byte) (any, error) {
	var d queryDescriptor
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("refcodec: query descriptor: %w", err)
	}
	return entity.NewQuery(d.Type, d.Descriptor, c.Runner), nil
}

// FileField references a file-valued field on an entity.
// The descriptor stores enough to relocate the file through the entity
// rather than trusting the path round-tripped through the client.
type FileField struct {
	EntityType string
	EntityID   string
	Field      string
	Path       string
}

// FileFieldCodec persists a FileField and revalidates it against the owning
// entity on decode. A deleted entity decodes to nil.
type FileFieldCodec struct {
	Store entity.Store
}

type fileFieldDescriptor struct {
	Type  string `msgpack:"t"`
	ID    string `msgpack:"i"`
	Field string `msgpack:"f"`
	Path  string `msgpack:"p"`
}

func (c *FileFieldCodec) Prefix() string { return PrefixFileField }

func (c *FileFieldCodec) Type() reflect.Type {
	return reflect.TypeOf((*FileField)(nil))
}

func (c *FileFieldCodec) Encode(v any) ([]byte, error) {
	ff, ok := v.(*FileField)
	if !ok {
		return nil, nil
	}
	return msgpack.Marshal(&fileFieldDescriptor{
		Type: ff.EntityType, ID: ff.EntityID, Field: ff.Field, Path: ff.Path,
	})
}

func (c *FileFieldCodec) Decode(ctx context.Context, data []byte) (any, error) {
	var d fileFieldDescriptor
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("refcodec: file field descriptor: %w", err)
	}

	e, err := c.Store.Get(ctx, d.Type, d.ID)
	if err != nil {
		return nil, fmt.Errorf("refcodec: reload %s.%s: %w", d.Type, d.ID, err)
	}
	if e == nil {
		return nil, nil
	}

	ff := &FileField{EntityType: d.Type, EntityID: d.ID, Field: d.Field, Path: d.Path}
	// The entity's current field value wins over the persisted path.
	if v, ok := e.Field(d.Field); ok {
		if p, ok := v.(string); ok {
			ff.Path = p
		}
	}
	return ff, nil
}

// TempUploadCodec persists a locally stored temp upload by metadata and
// path. If the backing file is gone by decode time (claimed, expired, or
// swept), the reference becomes an empty placeholder, never an error.
type TempUploadCodec struct{}

type uploadDescriptor struct {
	ID          string `msgpack:"id"`
	Name        string `msgpack:"n"`
	Size        int64  `msgpack:"s"`
	ContentType string `msgpack:"c"`
	Path        string `msgpack:"p"`
}

func (c *TempUploadCodec) Prefix() string { return PrefixUpload }

func (c *TempUploadCodec) Type() reflect.Type {
	return reflect.TypeOf((*upload.File)(nil))
}

func (c *TempUploadCodec) Encode(v any) ([]byte, error) {
	f, ok := v.(*upload.File)
	if !ok {
		return nil, nil
	}
	return msgpack.Marshal(&uploadDescriptor{
		ID:          f.ID,
		Name:        f.Filename,
		Size:        f.Size,
		ContentType: f.ContentType,
		Path:        f.Path,
	})
}

func (c *TempUploadCodec) Decode(ctx context.Context, data []byte) (any, error) {
	var d uploadDescriptor
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("refcodec: upload descriptor: %w", err)
	}

	if d.Path != "" {
		if _, err := os.Stat(d.Path); err == nil {
			return &upload.File{
				ID:          d.ID,
				Filename:    d.Name,
				ContentType: d.ContentType,
				Size:        d.Size,
				Path:        d.Path,
			}, nil
		}
	}
	return upload.PlaceholderFor(d.Name, d.ContentType, d.Size), nil
}

// Fragment references a markup fragment block by its owning component or
// template identity plus a structural path key that relocates the same
// block after recompilation.
type Fragment struct {
	Component string
	Template  string
	Path      string
}

// FragmentResolver turns a decoded Fragment back into a live fragment
// value. The view layer installs it; without one, decode yields the
// Fragment descriptor itself.
type FragmentResolver func(f *Fragment) (any, error)

// FragmentCodec persists markup fragment references.
type FragmentCodec struct {
	Resolver FragmentResolver
}

type fragmentDescriptor struct {
	Component string `msgpack:"c"`
	Template  string `msgpack:"t"`
	Path      string `msgpack:"p"`
}

func (c *FragmentCodec) Prefix() string { return PrefixFragment }

func (c *FragmentCodec) Type() reflect.Type {
	return reflect.TypeOf((*Fragment)(nil))
}

func (c *FragmentCodec) Encode(v any) ([]byte, error) {
	f, ok := v.(*Fragment)
	if !ok {
		return nil, nil
	}
	return msgpack.Marshal(&fragmentDescriptor{
		Component: f.Component, Template: f.Template, Path: f.Path,
	})
}

func (c *FragmentCodec) Decode(ctx context.Context, data []byte) (any, error) {
	var d fragmentDescriptor
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("refcodec: fragment descriptor: %w", err)
	}

	f := &Fragment{Component: d.Component, Template: d.Template, Path: d.Path}
	if c.Resolver != nil {
		return c.Resolver(f)
	}
	return f, nil
}

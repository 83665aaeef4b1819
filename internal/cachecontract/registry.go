package cachecontract

import (
	"context"
	"encoding/json"

	"github.com/MPoppinga/partitioncache/internal/errutil"
)

// registryNamespace is the reserved partition namespace the Registry
// persists its own entries under (spec.md §4.5), distinct from any real
// partition name's fragment hashes.
const registryNamespace = "__partitioncache_registry__"

// Entry is a partition's registered metadata.
type Entry struct {
	Partition      string   `json:"partition"`
	Datatype       Datatype `json:"datatype"`
	Bitsize        *uint64  `json:"bitsize,omitempty"`
	GeometryColumn string   `json:"geometry_column,omitempty"`
}

// Registry maps partition names to their declared datatype/bitsize/
// geometry-column metadata. It is itself a Handler consumer, persisted
// under registryNamespace, not a separate storage system.
type Registry struct {
	handler Handler
}

func NewRegistry(handler Handler) *Registry {
	return &Registry{handler: registryStore(handler)}
}

// registryStore picks the handler registry entries are persisted through.
// Bitmap-encoded handlers cannot hold the registry's JSON text values, so a
// backend advertising an explicit-set view of the same store has its view
// used instead.
func registryStore(handler Handler) Handler {
	if handler.Capabilities().Encoding != BitmapEncoding {
		return handler
	}

	if v, ok := handler.(interface{ ExplicitSetView() Handler }); ok {
		return v.ExplicitSetView()
	}

	return handler
}

// Register creates or replaces the registry entry for partition.
func (r *Registry) Register(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errutil.Wrap("marshal registry entry", err)
	}

	set := NewExplicitSet(Text, PartitionValue(data))

	return r.handler.SetSet(ctx, registryNamespace, entry.Partition, set)
}

// Lookup returns the registered entry for partition, or NotRegisteredError.
func (r *Registry) Lookup(ctx context.Context, partition string) (*Entry, error) {
	res, err := r.handler.Get(ctx, registryNamespace, partition)
	if err != nil {
		return nil, err
	}

	if res.Kind != Hit || res.Explicit.IsEmpty() {
		return nil, &NotRegisteredError{Partition: partition}
	}

	members := res.Explicit.Members()

	var entry Entry
	if err := json.Unmarshal([]byte(members[0]), &entry); err != nil {
		return nil, errutil.Wrap("unmarshal registry entry", err)
	}

	return &entry, nil
}

// CheckDatatype validates that got matches the partition's registered
// datatype, returning DatatypeMismatchError on conflict.
func (r *Registry) CheckDatatype(ctx context.Context, partition string, got Datatype) error {
	entry, err := r.Lookup(ctx, partition)
	if err != nil {
		return err
	}

	if entry.Datatype != got {
		return &DatatypeMismatchError{Partition: partition, Want: entry.Datatype, Got: got}
	}

	return nil
}

package cachecontract

import "context"

// ResultKind is the three-way variant §4.2's get() returns, replacing the
// source's exception-for-control-flow miss path (spec.md §9).
type ResultKind int

const (
	Miss ResultKind = iota
	Null
	Hit
)

// GetResult is the result of Handler.Get: exactly one of Explicit or
// Bitmap is populated when Kind == Hit, matching the Handler's advertised
// Capabilities.Encoding.
type GetResult struct {
	Kind     ResultKind
	Explicit *ExplicitSet
	Bitmap   *BitmapSet
}

// Handler is the uniform cache operation set of spec.md §4.2, implemented
// once per backend. All operations are scoped to a partition namespace
// that fixes the partition's datatype/bitsize (enforced via the Registry,
// not by Handler itself).
type Handler interface {
	Get(ctx context.Context, partition, hash string) (GetResult, error)
	Exists(ctx context.Context, partition, hash string) (bool, error)
	FilterExisting(ctx context.Context, partition string, hashes []string) ([]string, error)
	GetIntersected(ctx context.Context, partition string, hashes []string) (GetResult, int, error)
	SetSet(ctx context.Context, partition, hash string, values *ExplicitSet) error
	SetBitmap(ctx context.Context, partition, hash string, bitmap *BitmapSet) error
	SetNull(ctx context.Context, partition, hash string) error
	Delete(ctx context.Context, partition, hash string) error
	GetAllKeys(ctx context.Context, partition string) ([]string, error)
	Close() error
	Capabilities() Capabilities
}

// LazyHandler is the optional capability (§4.2 "Lazy mode") that lets
// Apply-Cache push the intersection into the source database instead of
// materializing it.
type LazyHandler interface {
	Handler
	GetIntersectedSQL(ctx context.Context, partition string, hashes []string) (string, error)
}

// QueryTextRecorder is the optional capability SQL-table-backed handlers
// advertise for the sibling diagnostics table: the fragment text behind a
// hash, stored so an operator can read back what a cache entry means. The
// Worker records it best-effort after a successful cache write.
type QueryTextRecorder interface {
	RecordQueryText(ctx context.Context, partition, hash, text string) error
}

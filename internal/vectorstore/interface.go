// Package vectorstore provides the vector index abstraction and its
// chromem-go (embedded) and Qdrant (gRPC) implementations.
package vectorstore

import (
	"context"
	"errors"
	"sort"
)

// Sentinel errors returned by Index implementations.
var (
	// ErrInvalidConfig indicates invalid index configuration.
	ErrInvalidConfig = errors.New("invalid index configuration")

	// ErrInvalidNamespace indicates a namespace that cannot name a collection.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidRecord indicates a record violating upsert invariants.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDimensionMismatch indicates an embedding of the wrong dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrUpsertFailed indicates the backend rejected an upsert.
	ErrUpsertFailed = errors.New("upsert failed")

	// ErrQueryFailed indicates a query-side transport or backend failure.
	// Callers must treat this as unknown state, never as an empty result.
	ErrQueryFailed = errors.New("query failed")
)

// Index is the vector index every component programs against.
//
// Namespaces partition the index completely: no operation ever returns
// records from a namespace other than the one addressed.
type Index interface {
	// Upsert writes records into the namespace, creating it on first use.
	// Idempotent on record ID: re-upserting overwrites, never duplicates.
	Upsert(ctx context.Context, ns Namespace, records []Record) error

	// Query returns up to k matches ordered by similarity descending, with
	// ties broken by record timestamp descending. A non-nil filter restricts
	// matches to records whose metadata equals every filter entry. A missing
	// namespace or an empty result yields an empty slice and a nil error;
	// transport failures yield a wrapped ErrQueryFailed.
	Query(ctx context.Context, ns Namespace, embedding []float32, k int, filter map[string]string) ([]Match, error)

	// Scan enumerates up to limit records matching the metadata filter,
	// without similarity ranking. Embeddings are populated so callers can
	// re-upsert without re-embedding. Missing namespace yields empty, nil.
	Scan(ctx context.Context, ns Namespace, filter map[string]string, limit int) ([]Record, error)

	// DeleteNamespace removes a namespace and everything in it.
	// Deleting a missing namespace is not an error.
	DeleteNamespace(ctx context.Context, ns Namespace) error

	// DeleteAll removes every namespace. Admin-only surface.
	DeleteAll(ctx context.Context) error

	// ListNamespaces returns every existing namespace.
	ListNamespaces(ctx context.Context) ([]Namespace, error)

	// NamespaceInfo reports record count and vector size for a namespace.
	// Returns ErrNamespaceNotFound when it does not exist.
	NamespaceInfo(ctx context.Context, ns Namespace) (*NamespaceInfo, error)

	// Close releases backend resources.
	Close() error
}

// sortMatches orders matches by score descending, ties by timestamp
// descending so fresher records win.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.Timestamp > matches[j].Record.Timestamp
	})
}

package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("vectord.vectorstore.chromem")

// errEmbeddingsPrecomputed guards against chromem falling back to its own
// embedder: every record and query carries a precomputed vector.
var errEmbeddingsPrecomputed = errors.New("vectorstore: embeddings must be precomputed")

// ChromemOptions configures the embedded chromem-go index.
type ChromemOptions struct {
	// Path is the directory for persistent storage. Empty means in-memory,
	// which is what tests use.
	Path string

	// Compress enables gzip compression of persisted collections.
	Compress bool

	// VectorSize is the embedding dimension every record must carry.
	VectorSize int
}

// ChromemIndex implements Index on chromem-go, an embeddable pure-Go vector
// database. One chromem collection per namespace.
type ChromemIndex struct {
	db         *chromem.DB
	vectorSize int
	logger     *zap.Logger
}

// NewChromemIndex creates a ChromemIndex. With an empty path the index lives
// in memory; otherwise it persists to gob files under opts.Path.
func NewChromemIndex(opts ChromemOptions, logger *zap.Logger) (*ChromemIndex, error) {
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if opts.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory %s: %w", opts.Path, err)
		}
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem DB at %s: %w", opts.Path, err)
		}
	}

	logger.Info("chromem index initialized",
		zap.String("path", opts.Path),
		zap.Bool("in_memory", opts.Path == ""),
		zap.Int("vector_size", opts.VectorSize),
	)

	return &ChromemIndex{db: db, vectorSize: opts.VectorSize, logger: logger}, nil
}

// noEmbeddingFunc is passed wherever chromem wants an embedder. Passing nil
// would silently select chromem's OpenAI default.
func noEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, errEmbeddingsPrecomputed
}

func (c *ChromemIndex) getCollection(ns Namespace) *chromem.Collection {
	return c.db.GetCollection(ns.String(), noEmbeddingFunc)
}

// Upsert writes records into the namespace's collection, creating it on
// first use. chromem stores documents by ID so re-upserts overwrite.
func (c *ChromemIndex) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", ns.String()),
		attribute.Int("record_count", len(records)),
	)
	start := time.Now()

	if err := ns.Validate(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if err := validateRecord(r, c.vectorSize); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  recordMetadata(r),
			Embedding: r.Embedding,
		}
	}

	collection, err := c.db.GetOrCreateCollection(ns.String(), nil, noEmbeddingFunc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: collection %s: %v", ErrUpsertFailed, ns, err)
	}

	// Concurrency of 1: embeddings are already attached, nothing to parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeIndexOp("upsert", start, err)
		return fmt.Errorf("%w: %v", ErrUpsertFailed, err)
	}

	recordsUpserted.Add(float64(len(records)))
	observeIndexOp("upsert", start, nil)
	span.SetStatus(codes.Ok, "")

	c.logger.Debug("upserted records",
		zap.String("namespace", ns.String()),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query searches the namespace's collection, re-ranking ties by timestamp.
func (c *ChromemIndex) Query(ctx context.Context, ns Namespace, embedding []float32, k int, filter map[string]string) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", ns.String()),
		attribute.Int("k", k),
	)
	start := time.Now()

	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrQueryFailed, k)
	}
	if len(embedding) != c.vectorSize {
		return nil, fmt.Errorf("%w: query has %d dims, index expects %d",
			ErrDimensionMismatch, len(embedding), c.vectorSize)
	}

	collection := c.getCollection(ns)
	if collection == nil {
		// Missing namespace is an empty result, not an error.
		return []Match{}, nil
	}

	// chromem requires nResults <= document count.
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.QueryEmbedding(ctx, embedding, k, filter, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeIndexOp("query", start, err)
		return nil, fmt.Errorf("%w: namespace %s: %v", ErrQueryFailed, ns, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Record: recordFromMetadata(r.ID, r.Content, r.Embedding, r.Metadata),
			Score:  r.Similarity,
		}
	}
	sortMatches(matches)

	observeIndexOp("query", start, nil)
	span.SetAttributes(attribute.Int("result_count", len(matches)))
	span.SetStatus(codes.Ok, "")
	return matches, nil
}

// scanProbe is an arbitrary unit vector. Scan only cares about the metadata
// filter, not similarity, but chromem can only reach documents via a query.
func (c *ChromemIndex) scanProbe() []float32 {
	probe := make([]float32, c.vectorSize)
	probe[0] = 1
	return probe
}

// Scan enumerates records matching the filter, up to limit.
func (c *ChromemIndex) Scan(ctx context.Context, ns Namespace, filter map[string]string, limit int) ([]Record, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Scan")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", ns.String()),
		attribute.Int("limit", limit),
	)
	start := time.Now()

	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrQueryFailed, limit)
	}

	collection := c.getCollection(ns)
	if collection == nil {
		return []Record{}, nil
	}
	count := collection.Count()
	if count == 0 {
		return []Record{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := collection.QueryEmbedding(ctx, c.scanProbe(), limit, filter, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeIndexOp("scan", start, err)
		return nil, fmt.Errorf("%w: scanning namespace %s: %v", ErrQueryFailed, ns, err)
	}

	records := make([]Record, len(results))
	for i, r := range results {
		records[i] = recordFromMetadata(r.ID, r.Content, r.Embedding, r.Metadata)
	}

	observeIndexOp("scan", start, nil)
	span.SetAttributes(attribute.Int("result_count", len(records)))
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// DeleteNamespace removes the namespace's collection. Missing is not an error.
func (c *ChromemIndex) DeleteNamespace(ctx context.Context, ns Namespace) error {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", ns.String()))

	if err := ns.Validate(); err != nil {
		return err
	}
	if err := c.db.DeleteCollection(ns.String()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting namespace %s: %w", ns, err)
	}
	span.SetStatus(codes.Ok, "")
	c.logger.Info("deleted namespace", zap.String("namespace", ns.String()))
	return nil
}

// DeleteAll removes every collection.
func (c *ChromemIndex) DeleteAll(ctx context.Context) error {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteAll")
	defer span.End()

	names := c.db.ListCollections()
	for name := range names {
		if err := c.db.DeleteCollection(name); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("deleting namespace %s: %w", name, err)
		}
	}
	span.SetAttributes(attribute.Int("namespaces_deleted", len(names)))
	span.SetStatus(codes.Ok, "")
	c.logger.Warn("deleted all namespaces", zap.Int("count", len(names)))
	return nil
}

// ListNamespaces returns every existing namespace.
func (c *ChromemIndex) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.ListNamespaces")
	defer span.End()

	collections := c.db.ListCollections()
	namespaces := make([]Namespace, 0, len(collections))
	for name := range collections {
		namespaces = append(namespaces, Namespace(name))
	}
	span.SetAttributes(attribute.Int("namespace_count", len(namespaces)))
	span.SetStatus(codes.Ok, "")
	return namespaces, nil
}

// NamespaceInfo reports the record count of a namespace.
func (c *ChromemIndex) NamespaceInfo(ctx context.Context, ns Namespace) (*NamespaceInfo, error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.NamespaceInfo")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", ns.String()))

	if err := ns.Validate(); err != nil {
		return nil, err
	}
	collection := c.getCollection(ns)
	if collection == nil {
		span.SetStatus(codes.Error, "namespace not found")
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}
	span.SetStatus(codes.Ok, "")
	return &NamespaceInfo{
		Namespace:   ns,
		RecordCount: collection.Count(),
		VectorSize:  c.vectorSize,
	}, nil
}

// Close is a no-op: chromem persists on write.
func (c *ChromemIndex) Close() error {
	c.logger.Info("chromem index closed")
	return nil
}

var _ Index = (*ChromemIndex)(nil)

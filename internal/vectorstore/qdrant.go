package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("vectord.vectorstore.qdrant")

// pointIDSeed namespaces the deterministic UUIDs derived from record IDs.
// Qdrant point IDs must be UUIDs; record IDs like "msg_42" are not, so each
// point gets uuid5(seed, recordID) and the real ID rides in the payload.
var pointIDSeed = uuid.MustParse("7f1d3c5a-9b0e-4f6d-8a21-c4e5b2d90377")

const payloadContent = "content"
const payloadRecordID = "record_id"

// QdrantOptions configures the Qdrant gRPC index.
type QdrantOptions struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string

	// VectorSize is the embedding dimension for every collection.
	VectorSize int

	// RequestTimeout bounds individual gRPC calls. Default 30s.
	RequestTimeout time.Duration

	// RetryAttempts bounds retries of transient failures. Default 3.
	RetryAttempts int
}

func (o *QdrantOptions) applyDefaults() {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 6334
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
}

// QdrantIndex implements Index against an external Qdrant server over gRPC.
// One Qdrant collection per namespace; payload carries the record fields.
type QdrantIndex struct {
	client *qdrant.Client
	opts   QdrantOptions
	logger *zap.Logger
}

// NewQdrantIndex connects to Qdrant and verifies the connection.
func NewQdrantIndex(opts QdrantOptions, logger *zap.Logger) (*QdrantIndex, error) {
	opts.applyDefaults()
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := &qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		UseTLS: opts.UseTLS,
		APIKey: opts.APIKey,
	}
	if !opts.UseTLS {
		cfg.GrpcOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	idx := &QdrantIndex{client: client, opts: opts, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), opts.RequestTimeout)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	logger.Info("qdrant index connected",
		zap.String("host", opts.Host),
		zap.Int("port", opts.Port),
		zap.Int("vector_size", opts.VectorSize),
	)
	return idx, nil
}

// ensureCollection creates the namespace's collection if missing.
func (q *QdrantIndex) ensureCollection(ctx context.Context, ns Namespace) error {
	exists, err := q.client.CollectionExists(ctx, ns.String())
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", ns, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: ns.String(),
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.opts.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Concurrent creation loses the race but the collection exists.
		if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", ns, err)
	}
	return nil
}

// Upsert writes records as points keyed by uuid5 of the record ID.
func (q *QdrantIndex) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
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

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		if err := validateRecord(r, q.opts.VectorSize); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(pointIDSeed, []byte(r.ID)).String()),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: recordPayload(r),
		}
	}

	err := q.withRetry(ctx, func(ctx context.Context) error {
		if err := q.ensureCollection(ctx, ns); err != nil {
			return err
		}
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: ns.String(),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		observeIndexOp("upsert", start, err)
		return fmt.Errorf("%w: %v", ErrUpsertFailed, err)
	}

	recordsUpserted.Add(float64(len(records)))
	observeIndexOp("upsert", start, nil)
	span.SetStatus(otelcodes.Ok, "")
	return nil
}

// Query searches the namespace's collection.
func (q *QdrantIndex) Query(ctx context.Context, ns Namespace, embedding []float32, k int, filter map[string]string) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Query")
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
	if len(embedding) != q.opts.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dims, index expects %d",
			ErrDimensionMismatch, len(embedding), q.opts.VectorSize)
	}

	var results []*qdrant.ScoredPoint
	err := q.withRetry(ctx, func(ctx context.Context) error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: ns.String(),
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         buildFilter(filter),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return []Match{}, nil
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		observeIndexOp("query", start, err)
		return nil, fmt.Errorf("%w: namespace %s: %v", ErrQueryFailed, ns, err)
	}

	matches := make([]Match, len(results))
	for i, p := range results {
		matches[i] = Match{
			Record: recordFromPayload(p.Payload, extractVector(p.Vectors)),
			Score:  p.Score,
		}
	}
	sortMatches(matches)

	observeIndexOp("query", start, nil)
	span.SetAttributes(attribute.Int("result_count", len(matches)))
	span.SetStatus(otelcodes.Ok, "")
	return matches, nil
}

// Scan enumerates records matching the filter via the scroll API.
func (q *QdrantIndex) Scan(ctx context.Context, ns Namespace, filter map[string]string, limit int) ([]Record, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Scan")
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

	var points []*qdrant.RetrievedPoint
	err := q.withRetry(ctx, func(ctx context.Context) error {
		res, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: ns.String(),
			Filter:         buildFilter(filter),
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return []Record{}, nil
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		observeIndexOp("scan", start, err)
		return nil, fmt.Errorf("%w: scanning namespace %s: %v", ErrQueryFailed, ns, err)
	}

	records := make([]Record, len(points))
	for i, p := range points {
		records[i] = recordFromPayload(p.Payload, extractVector(p.Vectors))
	}

	observeIndexOp("scan", start, nil)
	span.SetAttributes(attribute.Int("result_count", len(records)))
	span.SetStatus(otelcodes.Ok, "")
	return records, nil
}

// DeleteNamespace drops the namespace's collection.
func (q *QdrantIndex) DeleteNamespace(ctx context.Context, ns Namespace) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.DeleteNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", ns.String()))

	if err := ns.Validate(); err != nil {
		return err
	}
	err := q.withRetry(ctx, func(ctx context.Context) error {
		return q.client.DeleteCollection(ctx, ns.String())
	})
	if err != nil && !isNotFound(err) {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("deleting namespace %s: %w", ns, err)
	}
	span.SetStatus(otelcodes.Ok, "")
	q.logger.Info("deleted namespace", zap.String("namespace", ns.String()))
	return nil
}

// DeleteAll drops every collection.
func (q *QdrantIndex) DeleteAll(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.DeleteAll")
	defer span.End()

	names, err := q.client.ListCollections(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, name := range names {
		if err := q.client.DeleteCollection(ctx, name); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return fmt.Errorf("deleting namespace %s: %w", name, err)
		}
	}
	span.SetAttributes(attribute.Int("namespaces_deleted", len(names)))
	span.SetStatus(otelcodes.Ok, "")
	q.logger.Warn("deleted all namespaces", zap.Int("count", len(names)))
	return nil
}

// ListNamespaces returns every existing namespace.
func (q *QdrantIndex) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.ListNamespaces")
	defer span.End()

	names, err := q.client.ListCollections(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	namespaces := make([]Namespace, len(names))
	for i, name := range names {
		namespaces[i] = Namespace(name)
	}
	span.SetStatus(otelcodes.Ok, "")
	return namespaces, nil
}

// NamespaceInfo reports the point count of a namespace.
func (q *QdrantIndex) NamespaceInfo(ctx context.Context, ns Namespace) (*NamespaceInfo, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.NamespaceInfo")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", ns.String()))

	if err := ns.Validate(); err != nil {
		return nil, err
	}
	info, err := q.client.GetCollectionInfo(ctx, ns.String())
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("describing namespace %s: %w", ns, err)
	}
	span.SetStatus(otelcodes.Ok, "")
	return &NamespaceInfo{
		Namespace:   ns,
		RecordCount: int(info.GetPointsCount()),
		VectorSize:  q.opts.VectorSize,
	}, nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// withRetry runs op with a per-call timeout, retrying transient failures
// with doubling backoff.
func (q *QdrantIndex) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := 250 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= q.opts.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, q.opts.RequestTimeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || attempt == q.opts.RetryAttempts {
			break
		}
		q.logger.Debug("retrying qdrant operation",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}

// buildFilter converts an exact-match metadata filter to a Qdrant filter.
func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

// recordPayload flattens a record into a Qdrant payload.
func recordPayload(r Record) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadRecordID: qdrant.NewValueString(r.ID),
		payloadContent:  qdrant.NewValueString(r.Content),
		metaKind:        qdrant.NewValueString(string(r.Kind)),
		metaTimestamp:   qdrant.NewValueInt(r.Timestamp),
		metaDisplayName: qdrant.NewValueString(r.Profile.DisplayName),
	}
	if r.OwnerID != "" {
		payload[metaOwnerID] = qdrant.NewValueString(r.OwnerID)
	}
	if r.ChannelID != "" {
		payload[metaChannelID] = qdrant.NewValueString(r.ChannelID)
	}
	if r.Profile.PhotoURL != "" {
		payload[metaPhotoURL] = qdrant.NewValueString(r.Profile.PhotoURL)
	}
	if r.Profile.Bio != "" {
		payload[metaBio] = qdrant.NewValueString(r.Profile.Bio)
	}
	return payload
}

// recordFromPayload rebuilds a record from a point payload.
func recordFromPayload(payload map[string]*qdrant.Value, embedding []float32) Record {
	return Record{
		ID:        payload[payloadRecordID].GetStringValue(),
		OwnerID:   payload[metaOwnerID].GetStringValue(),
		Kind:      Kind(payload[metaKind].GetStringValue()),
		Content:   payload[payloadContent].GetStringValue(),
		Embedding: embedding,
		ChannelID: payload[metaChannelID].GetStringValue(),
		Timestamp: payload[metaTimestamp].GetIntegerValue(),
		Profile: ProfileSnapshot{
			DisplayName: payload[metaDisplayName].GetStringValue(),
			PhotoURL:    payload[metaPhotoURL].GetStringValue(),
			Bio:         payload[metaBio].GetStringValue(),
		},
	}
}

func extractVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		return vec.GetData()
	}
	return nil
}

var _ Index = (*QdrantIndex)(nil)

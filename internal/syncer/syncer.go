// Package syncer keeps the vector index consistent with the chat store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/chat"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/embeddings"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/mapper"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

// SyncFailure wraps the terminal error of a sync attempt with the entity
// that failed, so callers can report per-entity outcomes.
type SyncFailure struct {
	EntityID string
	Err      error
}

func (f *SyncFailure) Error() string {
	return fmt.Sprintf("syncing %s: %v", f.EntityID, f.Err)
}

func (f *SyncFailure) Unwrap() error {
	return f.Err
}

// FanOutReport summarizes a profile fan-out across namespaces.
type FanOutReport struct {
	// Matched is how many records carry the user's snapshot.
	Matched int `json:"matchedCount"`

	// Updated is how many were successfully re-upserted.
	Updated int `json:"updatedCount"`

	// FailedIDs lists records that could not be updated.
	FailedIDs []string `json:"failedIds,omitempty"`
}

// Options tunes the syncer.
type Options struct {
	// MaxAttempts bounds embed/upsert retries per record. Default 3.
	MaxAttempts int

	// BaseBackoff is the first retry delay, doubled per attempt. Default 200ms.
	BaseBackoff time.Duration

	// FanOutScanLimit caps records scanned per namespace in a fan-out.
	// Default 1000.
	FanOutScanLimit int
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff == 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.FanOutScanLimit == 0 {
		o.FanOutScanLimit = 1000
	}
}

// Syncer orchestrates mapping, embedding and upserting of chat mutations.
type Syncer struct {
	index    vectorstore.Index
	embedder embeddings.Embedder
	store    chat.Store
	opts     Options
	logger   *zap.Logger
	locks    *keyedMutex

	now func() int64
}

// New creates a Syncer. store may be nil when only the push endpoints are
// used; Run requires it to resolve message authors.
func New(index vectorstore.Index, embedder embeddings.Embedder, store chat.Store, opts Options, logger *zap.Logger) *Syncer {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		index:    index,
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// withRetry runs op up to MaxAttempts times with doubling backoff, wrapping
// the terminal error in a SyncFailure. Validation errors never retry.
func (s *Syncer) withRetry(ctx context.Context, entityID string, op func(ctx context.Context) error) error {
	backoff := s.opts.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var verr *mapper.ValidationError
		if errors.As(err, &verr) ||
			errors.Is(err, vectorstore.ErrInvalidRecord) ||
			errors.Is(err, vectorstore.ErrDimensionMismatch) ||
			errors.Is(err, embeddings.ErrEmptyInput) {
			break
		}
		if attempt == s.opts.MaxAttempts {
			break
		}

		s.logger.Warn("sync attempt failed, retrying",
			zap.String("entity_id", entityID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return &SyncFailure{EntityID: entityID, Err: ctx.Err()}
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return &SyncFailure{EntityID: entityID, Err: lastErr}
}

// embedAndUpsert attaches an embedding to the record and writes it.
func (s *Syncer) embedAndUpsert(ctx context.Context, ns vectorstore.Namespace, rec vectorstore.Record) error {
	vec, err := s.embedder.EmbedQuery(ctx, rec.Content)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", rec.ID, err)
	}
	rec.Embedding = vec
	return s.index.Upsert(ctx, ns, []vectorstore.Record{rec})
}

// SyncMessage maps a message plus its author into the workspace namespace.
func (s *Syncer) SyncMessage(ctx context.Context, msg chat.Message, owner chat.UserProfile) error {
	rec, err := mapper.MessageRecord(msg, owner)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	ns := vectorstore.WorkspaceNamespace(msg.WorkspaceID)
	if err := s.withRetry(ctx, rec.ID, func(ctx context.Context) error {
		return s.embedAndUpsert(ctx, ns, rec)
	}); err != nil {
		return err
	}

	s.logger.Debug("synced message",
		zap.String("record_id", rec.ID),
		zap.String("namespace", ns.String()),
	)
	return nil
}

// SyncBio writes the user's bio record into their namespace.
func (s *Syncer) SyncBio(ctx context.Context, profile chat.UserProfile) error {
	rec, err := mapper.BioRecord(profile, s.now())
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	ns := vectorstore.UserNamespace(profile.UserID)
	if err := s.withRetry(ctx, rec.ID, func(ctx context.Context) error {
		return s.embedAndUpsert(ctx, ns, rec)
	}); err != nil {
		return err
	}

	s.logger.Debug("synced bio",
		zap.String("record_id", rec.ID),
		zap.String("namespace", ns.String()),
	)
	return nil
}

// SyncUserProfile propagates a profile change to every record the user
// owns, across all namespaces. Records from before owner tagging are
// matched by display name and gain an owner_id on re-upsert. One record's
// failure never aborts the batch; the report carries the tallies.
func (s *Syncer) SyncUserProfile(ctx context.Context, profile chat.UserProfile) (FanOutReport, error) {
	report := FanOutReport{}
	if profile.UserID == "" {
		return report, &mapper.ValidationError{Entity: "profile", Field: "userId", Reason: "is required"}
	}
	snapshot := mapper.Snapshot(profile)

	// The bio record's content is the bio text itself, so a bio change
	// needs a fresh embedding, not just a snapshot rewrite.
	if profile.Bio != "" {
		if err := s.SyncBio(ctx, profile); err != nil {
			report.FailedIDs = append(report.FailedIDs, mapper.BioID(profile.UserID))
			s.logger.Warn("bio sync failed during profile fan-out",
				zap.String("user_id", profile.UserID),
				zap.Error(err),
			)
		}
	}

	namespaces, err := s.index.ListNamespaces(ctx)
	if err != nil {
		return report, fmt.Errorf("listing namespaces: %w", err)
	}

	for _, ns := range namespaces {
		matched, err := s.collectOwnedRecords(ctx, ns, profile.UserID, snapshot.DisplayName)
		if err != nil {
			s.logger.Warn("skipping namespace in profile fan-out",
				zap.String("namespace", ns.String()),
				zap.Error(err),
			)
			continue
		}
		report.Matched += len(matched)

		for _, rec := range matched {
			rec.OwnerID = profile.UserID
			rec.Profile = snapshot

			unlock := s.locks.Lock(rec.ID)
			err := s.withRetry(ctx, rec.ID, func(ctx context.Context) error {
				// Content is unchanged, so the scanned embedding is reused.
				return s.index.Upsert(ctx, ns, []vectorstore.Record{rec})
			})
			unlock()

			if err != nil {
				report.FailedIDs = append(report.FailedIDs, rec.ID)
				continue
			}
			report.Updated++
		}
	}

	s.logger.Info("profile fan-out complete",
		zap.String("user_id", profile.UserID),
		zap.Int("updated", report.Updated),
		zap.Int("matched", report.Matched),
		zap.Int("failed", len(report.FailedIDs)),
	)
	return report, nil
}

// collectOwnedRecords finds the user's records in one namespace: primarily
// by owner_id, falling back to display name for records written before
// owner tagging. The fallback never claims records owned by someone else.
func (s *Syncer) collectOwnedRecords(ctx context.Context, ns vectorstore.Namespace, userID, displayName string) ([]vectorstore.Record, error) {
	byID := make(map[string]vectorstore.Record)

	owned, err := s.index.Scan(ctx, ns, map[string]string{"owner_id": userID}, s.opts.FanOutScanLimit)
	if err != nil {
		return nil, err
	}
	for _, rec := range owned {
		byID[rec.ID] = rec
	}

	legacy, err := s.index.Scan(ctx, ns, map[string]string{"display_name": displayName}, s.opts.FanOutScanLimit)
	if err != nil {
		return nil, err
	}
	for _, rec := range legacy {
		if rec.OwnerID != "" && rec.OwnerID != userID {
			continue
		}
		if rec.OwnerID == "" {
			s.logger.Warn("claiming legacy record by display name",
				zap.String("record_id", rec.ID),
				zap.String("namespace", ns.String()),
				zap.String("user_id", userID),
			)
		}
		byID[rec.ID] = rec
	}

	records := make([]vectorstore.Record, 0, len(byID))
	for _, rec := range byID {
		records = append(records, rec)
	}
	return records, nil
}

// Run subscribes to the chat event source and applies mutations until the
// context is canceled. Each event is an independent unit of work; failures
// are logged and the stream continues.
func (s *Syncer) Run(ctx context.Context, source chat.Source) error {
	if s.store == nil {
		return errors.New("syncer: chat store required to run the event loop")
	}

	sub, err := source.Subscribe(ctx,
		[]chat.EventKind{chat.EventMessageCreated, chat.EventProfileUpdated},
		s.handleEvent,
	)
	if err != nil {
		return fmt.Errorf("subscribing to chat events: %w", err)
	}

	s.logger.Info("sync event loop started")
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		s.logger.Warn("draining event subscription", zap.Error(err))
	}
	s.logger.Info("sync event loop stopped")
	return nil
}

func (s *Syncer) handleEvent(ctx context.Context, event chat.Event) {
	switch event.Kind {
	case chat.EventMessageCreated:
		if event.Message == nil {
			return
		}
		owner, err := s.store.GetUser(ctx, event.Message.UserID)
		if err != nil {
			s.logger.Warn("author lookup failed, using defaults",
				zap.String("user_id", event.Message.UserID),
				zap.Error(err),
			)
			owner = &chat.UserProfile{UserID: event.Message.UserID}
		}
		if err := s.SyncMessage(ctx, *event.Message, *owner); err != nil {
			s.logger.Error("message sync failed",
				zap.String("message_id", event.Message.ID),
				zap.Error(err),
			)
		}
	case chat.EventProfileUpdated:
		if event.Profile == nil {
			return
		}
		if _, err := s.SyncUserProfile(ctx, *event.Profile); err != nil {
			s.logger.Error("profile fan-out failed",
				zap.String("user_id", event.Profile.UserID),
				zap.Error(err),
			)
		}
	}
}

// Package migration implements the batch jobs: full reindex, legacy agent
// profile migration, and the destructive reset.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/chat"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/completion"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/embeddings"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/mapper"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

// ErrJobInProgress indicates another migration or reset is already running.
// Jobs and resets are mutually exclusive.
var ErrJobInProgress = errors.New("a migration or reset is already in progress")

// ReindexReport summarizes a full reindex run.
type ReindexReport struct {
	Workspaces   int      `json:"workspaces"`
	Messages     int      `json:"messages"`
	Bios         int      `json:"bios"`
	TotalUpdated int      `json:"totalUpdated"`
	FailedIDs    []string `json:"failedIds,omitempty"`
}

// AgentReport summarizes a legacy agent profile migration.
type AgentReport struct {
	Migrated      int      `json:"migrated"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	FailedUserIDs []string `json:"failedUserIds,omitempty"`
}

// Options tunes the batch jobs.
type Options struct {
	// RatePerSecond limits external calls issued by jobs. Default 5.
	RatePerSecond float64

	// Burst is the limiter burst size. Default 1.
	Burst int

	// AgentHistoryLimit is how many historical messages feed a synthesized
	// profile. Default 50.
	AgentHistoryLimit int
}

func (o *Options) applyDefaults() {
	if o.RatePerSecond == 0 {
		o.RatePerSecond = 5
	}
	if o.Burst == 0 {
		o.Burst = 1
	}
	if o.AgentHistoryLimit == 0 {
		o.AgentHistoryLimit = 50
	}
}

const agentProfileSystemPrompt = "You write short third-person user bios for a team chat app. " +
	"Given a user's recent messages, describe their interests and role in one or two sentences. " +
	"Reply with the bio text only."

// Runner executes the batch jobs. A single in-flight flag makes jobs and
// resets mutually exclusive.
type Runner struct {
	index     vectorstore.Index
	embedder  embeddings.Embedder
	store     chat.Store
	completer completion.Completer
	limiter   *rate.Limiter
	opts      Options
	logger    *zap.Logger

	inFlight atomic.Bool
	now      func() int64
}

// New creates a Runner. completer may be nil when agent migration is unused.
func New(index vectorstore.Index, embedder embeddings.Embedder, store chat.Store, completer completion.Completer, opts Options, logger *zap.Logger) *Runner {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		index:     index,
		embedder:  embedder,
		store:     store,
		completer: completer,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:      opts,
		logger:    logger,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// acquire claims the in-flight flag or fails with ErrJobInProgress.
func (r *Runner) acquire() (release func(), err error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, ErrJobInProgress
	}
	return func() { r.inFlight.Store(false) }, nil
}

// embedAndUpsert attaches an embedding and writes the record, paced by the
// job limiter.
func (r *Runner) embedAndUpsert(ctx context.Context, ns vectorstore.Namespace, rec vectorstore.Record) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	vec, err := r.embedder.EmbedQuery(ctx, rec.Content)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", rec.ID, err)
	}
	rec.Embedding = vec
	return r.index.Upsert(ctx, ns, []vectorstore.Record{rec})
}

// FullReindex walks the entire chat store and re-upserts every message and
// bio. Stable record IDs make the job idempotent: a crashed run restarts
// from the top without duplicating anything. Cancellation stops new upserts
// and returns the partial report alongside the context error.
func (r *Runner) FullReindex(ctx context.Context) (ReindexReport, error) {
	report := ReindexReport{}
	release, err := r.acquire()
	if err != nil {
		return report, err
	}
	defer release()

	r.logger.Info("full reindex started")
	profiles := make(map[string]chat.UserProfile)

	ownerOf := func(userID string) chat.UserProfile {
		if p, ok := profiles[userID]; ok {
			return p
		}
		p, err := r.store.GetUser(ctx, userID)
		if err != nil {
			r.logger.Warn("author lookup failed during reindex, using defaults",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			p = &chat.UserProfile{UserID: userID}
		}
		profiles[userID] = *p
		return *p
	}

	workspaces, err := r.store.ListWorkspaces(ctx)
	if err != nil {
		return report, fmt.Errorf("listing workspaces: %w", err)
	}

	for _, ws := range workspaces {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Workspaces++

		channels, err := r.store.ListChannels(ctx, ws.ID)
		if err != nil {
			r.logger.Warn("skipping workspace, channel listing failed",
				zap.String("workspace_id", ws.ID),
				zap.Error(err),
			)
			continue
		}

		ns := vectorstore.WorkspaceNamespace(ws.ID)
		for _, ch := range channels {
			messages, err := r.store.ListMessages(ctx, ws.ID, ch.ID)
			if err != nil {
				r.logger.Warn("skipping channel, message listing failed",
					zap.String("channel_id", ch.ID),
					zap.Error(err),
				)
				continue
			}

			for _, msg := range messages {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.Messages++

				rec, err := mapper.MessageRecord(msg, ownerOf(msg.UserID))
				if err != nil {
					// Unmappable source rows are expected (empty messages).
					r.logger.Debug("skipping unmappable message",
						zap.String("message_id", msg.ID),
						zap.Error(err),
					)
					continue
				}
				if err := r.embedAndUpsert(ctx, ns, rec); err != nil {
					if ctx.Err() != nil {
						return report, ctx.Err()
					}
					report.FailedIDs = append(report.FailedIDs, rec.ID)
					r.logger.Warn("message reindex failed",
						zap.String("record_id", rec.ID),
						zap.Error(err),
					)
					continue
				}
				report.TotalUpdated++
			}
		}
	}

	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("listing users: %w", err)
	}
	for _, user := range users {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		rec, err := mapper.BioRecord(user, r.now())
		if err != nil {
			// Users without a bio simply have no bio record.
			continue
		}
		report.Bios++
		if err := r.embedAndUpsert(ctx, vectorstore.UserNamespace(user.UserID), rec); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.FailedIDs = append(report.FailedIDs, rec.ID)
			r.logger.Warn("bio reindex failed",
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		report.TotalUpdated++
	}

	r.logger.Info("full reindex complete",
		zap.Int("workspaces", report.Workspaces),
		zap.Int("messages", report.Messages),
		zap.Int("bios", report.Bios),
		zap.Int("total_updated", report.TotalUpdated),
		zap.Int("failed", len(report.FailedIDs)),
	)
	return report, nil
}

// MigrateAgentProfiles backfills a bio record for every user who lacks one,
// synthesizing the text from their message history when the profile itself
// has no bio. One user's failure never aborts the batch.
func (r *Runner) MigrateAgentProfiles(ctx context.Context) (AgentReport, error) {
	report := AgentReport{}
	release, err := r.acquire()
	if err != nil {
		return report, err
	}
	defer release()
	if r.completer == nil {
		return report, errors.New("agent migration requires a completion client")
	}

	r.logger.Info("agent profile migration started")

	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("listing users: %w", err)
	}

	for _, user := range users {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		existing, err := r.index.Scan(ctx, vectorstore.UserNamespace(user.UserID),
			map[string]string{"kind": string(vectorstore.KindBio)}, 1)
		if err == nil && len(existing) > 0 {
			report.Skipped++
			continue
		}

		if err := r.migrateUser(ctx, user); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			report.FailedUserIDs = append(report.FailedUserIDs, user.UserID)
			r.logger.Warn("agent profile migration failed for user",
				zap.String("user_id", user.UserID),
				zap.Error(err),
			)
			continue
		}
		report.Migrated++
	}

	r.logger.Info("agent profile migration complete",
		zap.Int("migrated", report.Migrated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *Runner) migrateUser(ctx context.Context, user chat.UserProfile) error {
	bio := strings.TrimSpace(user.Bio)
	if bio == "" {
		history, err := r.store.ListUserMessages(ctx, user.UserID, r.opts.AgentHistoryLimit)
		if err != nil {
			return fmt.Errorf("listing history: %w", err)
		}
		if len(history) == 0 {
			return errors.New("no bio and no message history to synthesize from")
		}

		var sb strings.Builder
		for _, msg := range history {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		bio, err = r.completer.Complete(ctx, agentProfileSystemPrompt, sb.String())
		if err != nil {
			return fmt.Errorf("synthesizing bio: %w", err)
		}
		bio = strings.TrimSpace(bio)
		if bio == "" {
			return errors.New("synthesized bio is empty")
		}
	}

	profile := user
	profile.Bio = bio
	rec, err := mapper.BioRecord(profile, r.now())
	if err != nil {
		return err
	}
	return r.embedAndUpsert(ctx, vectorstore.UserNamespace(user.UserID), rec)
}

// Reset destructively clears the entire index. Admin only.
func (r *Runner) Reset(ctx context.Context) error {
	release, err := r.acquire()
	if err != nil {
		return err
	}
	defer release()

	r.logger.Warn("resetting vector index")
	return r.index.DeleteAll(ctx)
}

// ResetNamespace destructively clears one namespace. Admin only.
func (r *Runner) ResetNamespace(ctx context.Context, ns vectorstore.Namespace) error {
	release, err := r.acquire()
	if err != nil {
		return err
	}
	defer release()

	r.logger.Warn("resetting namespace", zap.String("namespace", ns.String()))
	return r.index.DeleteNamespace(ctx, ns)
}

// Package retrieval assembles ranked context bundles for the AI responder.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/chat"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/embeddings"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

// DefaultTopK caps the bundle size when no override is configured.
const DefaultTopK = 8

// Request describes one context lookup. WorkspaceID may be empty, in which
// case it is resolved from the channel via the chat store.
type Request struct {
	UserID      string
	WorkspaceID string
	ChannelID   string

	// Message is the live message text, when there is one. Empty means the
	// query is derived from the channel/user pairing.
	Message string
}

// Item is one piece of retrieved context.
type Item struct {
	Kind        vectorstore.Kind
	Content     string
	DisplayName string
	Score       float32
	Timestamp   int64
}

// Bundle is an ephemeral, ranked set of context items. Never cached.
type Bundle struct {
	Items []Item
}

// Empty reports whether the bundle carries no context.
func (b Bundle) Empty() bool {
	return len(b.Items) == 0
}

// Format renders the bundle for prompt assembly, one labeled line per item.
func (b Bundle) Format() string {
	var sb strings.Builder
	for _, item := range b.Items {
		switch item.Kind {
		case vectorstore.KindBio:
			sb.WriteString("Bio: ")
		default:
			sb.WriteString("Message: ")
		}
		sb.WriteString(item.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Options tunes the retriever.
type Options struct {
	// TopK caps the bundle size. Default 8.
	TopK int
}

// Retriever queries the user's bio namespace and the workspace message
// namespace, merging both into one ranked bundle.
type Retriever struct {
	index    vectorstore.Index
	embedder embeddings.Embedder
	store    chat.Store
	topK     int
	logger   *zap.Logger

	// channel -> workspace resolution cache
	mu       sync.RWMutex
	channels map[string]string
}

// New creates a Retriever. store may be nil if callers always supply a
// workspace ID.
func New(index vectorstore.Index, embedder embeddings.Embedder, store chat.Store, opts Options, logger *zap.Logger) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		index:    index,
		embedder: embedder,
		store:    store,
		topK:     opts.TopK,
		logger:   logger,
		channels: make(map[string]string),
	}
}

// GetContext returns the ranked context bundle for a request. By contract
// it never fails: embedding or query trouble degrades to an empty bundle
// with a warning, so the caller can still attempt a completion.
func (r *Retriever) GetContext(ctx context.Context, req Request) Bundle {
	queryText := req.Message
	if strings.TrimSpace(queryText) == "" {
		queryText = fmt.Sprintf("conversation with user %s in channel %s", req.UserID, req.ChannelID)
	}

	embedding, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		r.logger.Warn("context query embedding failed, returning empty bundle",
			zap.String("user_id", req.UserID),
			zap.String("channel_id", req.ChannelID),
			zap.Error(err),
		)
		return Bundle{}
	}

	var matches []vectorstore.Match

	if req.UserID != "" {
		bioMatches, err := r.index.Query(ctx, vectorstore.UserNamespace(req.UserID), embedding, r.topK, nil)
		if err != nil {
			r.logger.Warn("bio namespace query failed",
				zap.String("user_id", req.UserID),
				zap.Error(err),
			)
		} else {
			matches = append(matches, bioMatches...)
		}
	}

	workspaceID := r.resolveWorkspace(ctx, req)
	if workspaceID != "" {
		filter := map[string]string{}
		if req.ChannelID != "" {
			filter["channel_id"] = req.ChannelID
		}
		msgMatches, err := r.index.Query(ctx, vectorstore.WorkspaceNamespace(workspaceID), embedding, r.topK, filter)
		if err != nil {
			r.logger.Warn("workspace namespace query failed",
				zap.String("workspace_id", workspaceID),
				zap.String("channel_id", req.ChannelID),
				zap.Error(err),
			)
		} else {
			matches = append(matches, msgMatches...)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.Timestamp > matches[j].Record.Timestamp
	})
	if len(matches) > r.topK {
		matches = matches[:r.topK]
	}

	bundle := Bundle{Items: make([]Item, len(matches))}
	for i, m := range matches {
		bundle.Items[i] = Item{
			Kind:        m.Record.Kind,
			Content:     m.Record.Content,
			DisplayName: m.Record.Profile.DisplayName,
			Score:       m.Score,
			Timestamp:   m.Record.Timestamp,
		}
	}
	return bundle
}

// resolveWorkspace finds the workspace owning a channel, caching hits.
// Resolution failure degrades to skipping the message leg.
func (r *Retriever) resolveWorkspace(ctx context.Context, req Request) string {
	if req.WorkspaceID != "" {
		return req.WorkspaceID
	}
	if req.ChannelID == "" || r.store == nil {
		return ""
	}

	r.mu.RLock()
	ws, ok := r.channels[req.ChannelID]
	r.mu.RUnlock()
	if ok {
		return ws
	}

	workspaces, err := r.store.ListWorkspaces(ctx)
	if err != nil {
		r.logger.Warn("workspace resolution failed", zap.Error(err))
		return ""
	}
	for _, workspace := range workspaces {
		channels, err := r.store.ListChannels(ctx, workspace.ID)
		if err != nil {
			continue
		}
		for _, ch := range channels {
			if ch.ID == req.ChannelID {
				r.mu.Lock()
				r.channels[req.ChannelID] = workspace.ID
				r.mu.Unlock()
				return workspace.ID
			}
		}
	}

	r.logger.Warn("channel not found in any workspace", zap.String("channel_id", req.ChannelID))
	return ""
}

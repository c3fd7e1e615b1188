package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/chat"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/mapper"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/migration"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/retrieval"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

const autoResponseSystemPrompt = "You are an AI assistant replying on behalf of a chat user. " +
	"Use the provided context about the user and the conversation when it helps. " +
	"Reply with the message text only."

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	var verr *mapper.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrInvalidNamespace):
		status = http.StatusBadRequest
	case errors.Is(err, migration.ErrJobInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Success: false, Error: err.Error()})
}

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	Message     chat.Message     `json:"message"`
	UserProfile chat.UserProfile `json:"userProfile"`
}

// SyncResponse is the body of a successful POST /sync.
type SyncResponse struct {
	Success bool `json:"success"`
}

// handleSync indexes one message together with its author's profile.
func (s *Server) handleSync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserProfile.UserID == "" {
		req.UserProfile.UserID = req.Message.UserID
	}

	if err := s.syncer.SyncMessage(c.Request().Context(), req.Message, req.UserProfile); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, SyncResponse{Success: true})
}

// SyncUserRequest is the body of POST /sync-user.
type SyncUserRequest struct {
	UserID      string `json:"userId"`
	UserProfile struct {
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoUrl"`
		Bio         string `json:"bio"`
	} `json:"userProfile"`
}

// SyncUserResponse is the body of a successful POST /sync-user.
type SyncUserResponse struct {
	Success      bool     `json:"success"`
	UpdatedCount int      `json:"updatedCount"`
	MatchedCount int      `json:"matchedCount"`
	FailedIDs    []string `json:"failedIds,omitempty"`
}

// handleSyncUser fans a profile change out to every record the user owns.
// Partial failures still return 200 with the tallies.
func (s *Server) handleSyncUser(c echo.Context) error {
	var req SyncUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	profile := chat.UserProfile{
		UserID:      req.UserID,
		DisplayName: req.UserProfile.DisplayName,
		PhotoURL:    req.UserProfile.PhotoURL,
		Bio:         req.UserProfile.Bio,
	}
	report, err := s.syncer.SyncUserProfile(c.Request().Context(), profile)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, SyncUserResponse{
		Success:      true,
		UpdatedCount: report.Updated,
		MatchedCount: report.Matched,
		FailedIDs:    report.FailedIDs,
	})
}

// MigrateResponse is the body of a successful POST /migrate.
type MigrateResponse struct {
	Success      bool `json:"success"`
	TotalUpdated int  `json:"totalUpdated"`
}

// handleMigrate runs a full reindex of the chat store.
func (s *Server) handleMigrate(c echo.Context) error {
	report, err := s.migrations.FullReindex(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, MigrateResponse{Success: true, TotalUpdated: report.TotalUpdated})
}

// AgentMigrateResponse is the body of a successful POST /ai-agent/migrate.
type AgentMigrateResponse struct {
	Success       bool     `json:"success"`
	Migrated      int      `json:"migrated"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	FailedUserIDs []string `json:"failedUserIds,omitempty"`
}

// handleAgentMigrate backfills bio records for users lacking one.
func (s *Server) handleAgentMigrate(c echo.Context) error {
	report, err := s.migrations.MigrateAgentProfiles(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, AgentMigrateResponse{
		Success:       true,
		Migrated:      report.Migrated,
		Skipped:       report.Skipped,
		Failed:        report.Failed,
		FailedUserIDs: report.FailedUserIDs,
	})
}

// ResetRequest optionally narrows the reset to one namespace.
type ResetRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// handleReset destructively clears the index, or a single namespace when
// the body names one.
func (s *Server) handleReset(c echo.Context) error {
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	var err error
	if req.Namespace != "" {
		err = s.migrations.ResetNamespace(ctx, vectorstore.Namespace(req.Namespace))
	} else {
		err = s.migrations.Reset(ctx)
	}
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, SyncResponse{Success: true})
}

// AutoResponseRequest is the body of POST /ai/auto-response.
type AutoResponseRequest struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Message   string `json:"message,omitempty"`
}

// AutoResponseResponse is the body of a successful POST /ai/auto-response.
type AutoResponseResponse struct {
	Response string `json:"response"`
}

// handleAutoResponse retrieves ranked context and asks the completion model
// for a reply. An empty context bundle still produces a completion attempt.
func (s *Server) handleAutoResponse(c echo.Context) error {
	var req AutoResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ChannelID == "" || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channelId and userId are required")
	}
	if s.completer == nil {
		return s.writeError(c, errors.New("completion client not configured"))
	}

	ctx := c.Request().Context()
	bundle := s.retriever.GetContext(ctx, retrieval.Request{
		UserID:    req.UserID,
		ChannelID: req.ChannelID,
		Message:   req.Message,
	})

	systemPrompt := autoResponseSystemPrompt
	if !bundle.Empty() {
		systemPrompt = fmt.Sprintf("%s\n\nContext:\n%s", autoResponseSystemPrompt, bundle.Format())
	}
	userPrompt := req.Message
	if userPrompt == "" {
		userPrompt = fmt.Sprintf("Write a helpful message for channel %s.", req.ChannelID)
	}

	reply, err := s.completer.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, AutoResponseResponse{Response: reply})
}

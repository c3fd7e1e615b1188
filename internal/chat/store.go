package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("chat entity not found")

	// ErrStoreUnavailable indicates the chat backend could not be reached.
	ErrStoreUnavailable = errors.New("chat store unavailable")
)

// Store reads the canonical chat data. Implemented by the chat backend's
// REST API; faked in tests.
type Store interface {
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	ListChannels(ctx context.Context, workspaceID string) ([]Channel, error)
	ListMessages(ctx context.Context, workspaceID, channelID string) ([]Message, error)
	ListUsers(ctx context.Context) ([]UserProfile, error)
	GetUser(ctx context.Context, userID string) (*UserProfile, error)

	// ListUserMessages returns a user's most recent messages across all
	// workspaces, newest first, capped at limit.
	ListUserMessages(ctx context.Context, userID string, limit int) ([]Message, error)
}

// RESTStore implements Store against the chat backend's REST API.
type RESTStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTStore creates a REST chat store client.
func NewRESTStore(baseURL, apiKey string) (*RESTStore, error) {
	if baseURL == "" {
		return nil, errors.New("chat store base URL required")
	}
	return &RESTStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *RESTStore) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: GET %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: GET %s: status %d: %s", ErrStoreUnavailable, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding GET %s: %w", path, err)
	}
	return nil
}

func (s *RESTStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var out []Workspace
	if err := s.get(ctx, "/api/workspaces", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RESTStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	var out []Channel
	path := "/api/workspaces/" + url.PathEscape(workspaceID) + "/channels"
	if err := s.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RESTStore) ListMessages(ctx context.Context, workspaceID, channelID string) ([]Message, error) {
	var out []Message
	path := "/api/workspaces/" + url.PathEscape(workspaceID) + "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := s.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RESTStore) ListUsers(ctx context.Context) ([]UserProfile, error) {
	var out []UserProfile
	if err := s.get(ctx, "/api/users", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RESTStore) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	var out UserProfile
	if err := s.get(ctx, "/api/users/"+url.PathEscape(userID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RESTStore) ListUserMessages(ctx context.Context, userID string, limit int) ([]Message, error) {
	var out []Message
	path := "/api/users/" + url.PathEscape(userID) + "/messages?limit=" + strconv.Itoa(limit)
	if err := s.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*RESTStore)(nil)

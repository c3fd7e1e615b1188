package httpapi

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/chat"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/config"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/migration"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/retrieval"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/syncer"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

const testDim = 8

func testEmbedding(seed string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	state := h.Sum64()

	vec := make([]float32, testDim)
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		vec[i] = float32(state%1000)/1000.0 + 0.1
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return testEmbedding(text), nil
}

func (e stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.EmbedQuery(ctx, t)
	}
	return out, nil
}

type stubCompleter struct {
	lastSystem string
	lastUser   string
	reply      string
}

func (c *stubCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.lastSystem = systemPrompt
	c.lastUser = userPrompt
	return c.reply, nil
}

type fixtureStore struct {
	users map[string]chat.UserProfile
}

func (f *fixtureStore) ListWorkspaces(ctx context.Context) ([]chat.Workspace, error) {
	return []chat.Workspace{{ID: "ws1", Name: "Engineering"}}, nil
}
func (f *fixtureStore) ListChannels(ctx context.Context, ws string) ([]chat.Channel, error) {
	return []chat.Channel{{ID: "ch1", WorkspaceID: "ws1", Name: "general"}}, nil
}
func (f *fixtureStore) ListMessages(ctx context.Context, ws, ch string) ([]chat.Message, error) {
	return []chat.Message{
		{ID: "1", WorkspaceID: "ws1", ChannelID: "ch1", UserID: "u1", Content: "hello world", CreatedAt: 100},
	}, nil
}
func (f *fixtureStore) ListUsers(ctx context.Context) ([]chat.UserProfile, error) {
	users := make([]chat.UserProfile, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, u)
	}
	return users, nil
}
func (f *fixtureStore) GetUser(ctx context.Context, id string) (*chat.UserProfile, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return &u, nil
}
func (f *fixtureStore) ListUserMessages(ctx context.Context, id string, limit int) ([]chat.Message, error) {
	return nil, nil
}

type testServer struct {
	server    *Server
	index     vectorstore.Index
	completer *stubCompleter
}

func newTestServer(t *testing.T, adminToken string) *testServer {
	t.Helper()

	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemOptions{VectorSize: testDim}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	store := &fixtureStore{users: map[string]chat.UserProfile{
		"u1": {UserID: "u1", DisplayName: "Alice", Bio: "loves hiking"},
	}}
	embedder := stubEmbedder{}
	completer := &stubCompleter{reply: "sounds great!"}

	sync := syncer.New(idx, embedder, store, syncer.Options{BaseBackoff: 1}, zap.NewNop())
	retriever := retrieval.New(idx, embedder, store, retrieval.Options{}, zap.NewNop())
	migrations := migration.New(idx, embedder, store, completer, migration.Options{RatePerSecond: 10000, Burst: 100}, zap.NewNop())

	server, err := NewServer(Config{Host: "localhost", Port: 0, AdminToken: config.Secret(adminToken)},
		sync, retriever, migrations, completer, zap.NewNop())
	require.NoError(t, err)

	return &testServer{server: server, index: idx, completer: completer}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandleSync(t *testing.T) {
	ts := newTestServer(t, "")

	body := `{"message":{"id":"7","workspaceId":"ws1","channelId":"ch1","userId":"u1","content":"let's ship it","createdAt":100},` +
		`"userProfile":{"userId":"u1","displayName":"Alice","bio":"loves hiking"}}`
	rec := ts.do(t, http.MethodPost, "/sync", body, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	matches, err := ts.index.Query(context.Background(), vectorstore.WorkspaceNamespace("ws1"),
		testEmbedding("let's ship it"), 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "msg_7", matches[0].Record.ID)
}

func TestHandleSync_ValidationErrorIs400(t *testing.T) {
	ts := newTestServer(t, "")

	body := `{"message":{"id":"7","workspaceId":"ws1","channelId":"ch1","userId":"u1","content":"   "},` +
		`"userProfile":{"userId":"u1","displayName":"Alice"}}`
	rec := ts.do(t, http.MethodPost, "/sync", body, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleSyncUser(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	require.NoError(t, ts.index.Upsert(ctx, vectorstore.WorkspaceNamespace("ws1"), []vectorstore.Record{{
		ID: "msg_1", OwnerID: "u1", Kind: vectorstore.KindMessage, Content: "old message",
		Embedding: testEmbedding("old message"), ChannelID: "ch1", Timestamp: 100,
		Profile: vectorstore.ProfileSnapshot{DisplayName: "Alice"},
	}}))

	body := `{"userId":"u1","userProfile":{"displayName":"Alice Smith","bio":"now climbing"}}`
	rec := ts.do(t, http.MethodPost, "/sync-user", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SyncUserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	// The seeded message plus the freshly written bio record.
	assert.Equal(t, 2, resp.MatchedCount)
	assert.Equal(t, 2, resp.UpdatedCount)
	assert.Empty(t, resp.FailedIDs)
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	ts := newTestServer(t, "secret-token")

	for _, path := range []string{"/migrate", "/ai-agent/migrate", "/vectordb/reset"} {
		t.Run(path, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token")

			rec = ts.do(t, http.MethodPost, path, "", map[string]string{"X-Admin-Token": "wrong"})
			assert.Equal(t, http.StatusForbidden, rec.Code, "wrong token")
		})
	}
}

func TestAdminEndpointsDisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(t, http.MethodPost, "/migrate", "", map[string]string{"X-Admin-Token": "anything"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleMigrate(t *testing.T) {
	ts := newTestServer(t, "secret-token")

	rec := ts.do(t, http.MethodPost, "/migrate", "", map[string]string{"X-Admin-Token": "secret-token"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MigrateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	// One message plus one bio from the fixture store.
	assert.Equal(t, 2, resp.TotalUpdated)
}

func TestHandleAgentMigrate(t *testing.T) {
	ts := newTestServer(t, "secret-token")

	rec := ts.do(t, http.MethodPost, "/ai-agent/migrate", "", map[string]string{"X-Admin-Token": "secret-token"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AgentMigrateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Migrated, "u1's profile bio becomes a bio record")
}

func TestHandleReset(t *testing.T) {
	ts := newTestServer(t, "secret-token")
	ctx := context.Background()

	require.NoError(t, ts.index.Upsert(ctx, vectorstore.WorkspaceNamespace("ws1"), []vectorstore.Record{{
		ID: "msg_1", OwnerID: "u1", Kind: vectorstore.KindMessage, Content: "doomed",
		Embedding: testEmbedding("doomed"), ChannelID: "ch1", Timestamp: 100,
		Profile: vectorstore.ProfileSnapshot{DisplayName: "Alice"},
	}}))

	rec := ts.do(t, http.MethodPost, "/vectordb/reset", "", map[string]string{"X-Admin-Token": "secret-token"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	namespaces, err := ts.index.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, namespaces)
}

func TestHandleReset_SingleNamespace(t *testing.T) {
	ts := newTestServer(t, "secret-token")
	ctx := context.Background()

	for _, ws := range []string{"ws1", "ws2"} {
		require.NoError(t, ts.index.Upsert(ctx, vectorstore.WorkspaceNamespace(ws), []vectorstore.Record{{
			ID: "msg_" + ws, OwnerID: "u1", Kind: vectorstore.KindMessage, Content: "in " + ws,
			Embedding: testEmbedding("in " + ws), ChannelID: "ch1", Timestamp: 100,
			Profile: vectorstore.ProfileSnapshot{DisplayName: "Alice"},
		}}))
	}

	rec := ts.do(t, http.MethodPost, "/vectordb/reset", `{"namespace":"workspace_ws1"}`,
		map[string]string{"X-Admin-Token": "secret-token"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	namespaces, err := ts.index.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.Namespace{vectorstore.WorkspaceNamespace("ws2")}, namespaces)
}

func TestHandleAutoResponse(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	require.NoError(t, ts.index.Upsert(ctx, vectorstore.UserNamespace("u1"), []vectorstore.Record{{
		ID: "bio_u1", OwnerID: "u1", Kind: vectorstore.KindBio, Content: "loves hiking",
		Embedding: testEmbedding("loves hiking"), Timestamp: 100,
		Profile: vectorstore.ProfileSnapshot{DisplayName: "Alice", Bio: "loves hiking"},
	}}))

	body := `{"channelId":"ch1","userId":"u1","message":"any trail ideas?"}`
	rec := ts.do(t, http.MethodPost, "/ai/auto-response", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AutoResponseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sounds great!", resp.Response)

	assert.Contains(t, ts.completer.lastSystem, "Bio: loves hiking", "retrieved context feeds the prompt")
	assert.Equal(t, "any trail ideas?", ts.completer.lastUser)
}

func TestHandleAutoResponse_EmptyContextStillCompletes(t *testing.T) {
	ts := newTestServer(t, "")

	body := `{"channelId":"ch-empty","userId":"nobody","message":"hello?"}`
	rec := ts.do(t, http.MethodPost, "/ai/auto-response", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AutoResponseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sounds great!", resp.Response)
}

func TestHandleAutoResponse_MissingFieldsAre400(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(t, http.MethodPost, "/ai/auto-response", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

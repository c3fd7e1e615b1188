package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

const testDim = 4

// tableEmbedder maps known texts to fixed vectors so similarity is under
// test control. Unknown texts embed to a far-off direction.
type tableEmbedder struct {
	vectors map[string][]float32
	err     error
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func (e *tableEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return normalize(v), nil
	}
	return normalize([]float32{0, 0, 0, 1}), nil
}

func (e *tableEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestIndex(t *testing.T) vectorstore.Index {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemOptions{VectorSize: testDim}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seed(t *testing.T, idx vectorstore.Index, ns vectorstore.Namespace, rec vectorstore.Record) {
	t.Helper()
	require.NoError(t, idx.Upsert(context.Background(), ns, []vectorstore.Record{rec}))
}

func TestGetContext_RanksAcrossNamespaces(t *testing.T) {
	idx := newTestIndex(t)
	embedder := &tableEmbedder{vectors: map[string][]float32{
		"let's plan the hiking trip": {1, 0.1, 0, 0},
		"loves hiking and camping":   {1, 0, 0, 0},
		"weekend trail suggestions?": {0.9, 0.3, 0, 0},
		"quarterly budget review":    {0, 1, 0, 0},
	}}

	seed(t, idx, vectorstore.UserNamespace("u1"), vectorstore.Record{
		ID: "bio_u1", OwnerID: "u1", Kind: vectorstore.KindBio,
		Content:   "loves hiking and camping",
		Embedding: normalize([]float32{1, 0, 0, 0}),
		Timestamp: 50,
		Profile:   vectorstore.ProfileSnapshot{DisplayName: "Alice", Bio: "loves hiking and camping"},
	})
	seed(t, idx, vectorstore.WorkspaceNamespace("ws1"), vectorstore.Record{
		ID: "msg_1", OwnerID: "u2", Kind: vectorstore.KindMessage,
		Content:   "weekend trail suggestions?",
		Embedding: normalize([]float32{0.9, 0.3, 0, 0}),
		ChannelID: "ch1", Timestamp: 100,
		Profile: vectorstore.ProfileSnapshot{DisplayName: "Bob"},
	})
	seed(t, idx, vectorstore.WorkspaceNamespace("ws1"), vectorstore.Record{
		ID: "msg_2", OwnerID: "u3", Kind: vectorstore.KindMessage,
		Content:   "quarterly budget review",
		Embedding: normalize([]float32{0, 1, 0, 0}),
		ChannelID: "ch1", Timestamp: 101,
		Profile: vectorstore.ProfileSnapshot{DisplayName: "Carol"},
	})

	r := New(idx, embedder, nil, Options{TopK: 3}, zap.NewNop())
	bundle := r.GetContext(context.Background(), Request{
		UserID: "u1", WorkspaceID: "ws1", ChannelID: "ch1",
		Message: "let's plan the hiking trip",
	})

	require.Len(t, bundle.Items, 3)
	// Hiking-related items outrank the budget message.
	assert.Equal(t, "loves hiking and camping", bundle.Items[0].Content)
	assert.Equal(t, vectorstore.KindBio, bundle.Items[0].Kind)
	assert.Equal(t, "weekend trail suggestions?", bundle.Items[1].Content)
	assert.Equal(t, "quarterly budget review", bundle.Items[2].Content)
}

func TestGetContext_RespectsChannelFilter(t *testing.T) {
	idx := newTestIndex(t)
	embedder := &tableEmbedder{vectors: map[string][]float32{
		"same text": {1, 0, 0, 0},
	}}

	for _, s := range []struct{ id, channel string }{
		{"msg_1", "ch1"},
		{"msg_2", "ch2"},
	} {
		seed(t, idx, vectorstore.WorkspaceNamespace("ws1"), vectorstore.Record{
			ID: s.id, OwnerID: "u1", Kind: vectorstore.KindMessage,
			Content:   "same text",
			Embedding: normalize([]float32{1, 0, 0, 0}),
			ChannelID: s.channel, Timestamp: 100,
			Profile: vectorstore.ProfileSnapshot{DisplayName: "Alice"},
		})
	}

	r := New(idx, embedder, nil, Options{}, zap.NewNop())
	bundle := r.GetContext(context.Background(), Request{
		UserID: "u9", WorkspaceID: "ws1", ChannelID: "ch2", Message: "same text",
	})

	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "same text", bundle.Items[0].Content)
}

func TestGetContext_CapsAtTopK(t *testing.T) {
	idx := newTestIndex(t)
	vecs := map[string][]float32{"q": {1, 0, 0, 0}}
	embedder := &tableEmbedder{vectors: vecs}

	for i := 0; i < 5; i++ {
		content := string(rune('a' + i))
		vecs[content] = []float32{1, float32(i) * 0.01, 0, 0}
		seed(t, idx, vectorstore.WorkspaceNamespace("ws1"), vectorstore.Record{
			ID: "msg_" + content, OwnerID: "u1", Kind: vectorstore.KindMessage,
			Content:   content,
			Embedding: normalize(vecs[content]),
			ChannelID: "ch1", Timestamp: int64(i),
			Profile: vectorstore.ProfileSnapshot{DisplayName: "Alice"},
		})
	}

	r := New(idx, embedder, nil, Options{TopK: 2}, zap.NewNop())
	bundle := r.GetContext(context.Background(), Request{
		UserID: "u1", WorkspaceID: "ws1", ChannelID: "ch1", Message: "q",
	})
	assert.Len(t, bundle.Items, 2)
}

func TestGetContext_DegradesToEmptyOnEmbedFailure(t *testing.T) {
	idx := newTestIndex(t)
	embedder := &tableEmbedder{err: errors.New("embedding backend down")}

	r := New(idx, embedder, nil, Options{}, zap.NewNop())
	bundle := r.GetContext(context.Background(), Request{
		UserID: "u1", WorkspaceID: "ws1", ChannelID: "ch1", Message: "anything",
	})
	assert.True(t, bundle.Empty(), "embed failure must degrade to empty, never error")
}

func TestGetContext_MissingNamespacesAreEmpty(t *testing.T) {
	idx := newTestIndex(t)
	embedder := &tableEmbedder{vectors: map[string][]float32{"q": {1, 0, 0, 0}}}

	r := New(idx, embedder, nil, Options{}, zap.NewNop())
	bundle := r.GetContext(context.Background(), Request{
		UserID: "ghost", WorkspaceID: "ws-ghost", ChannelID: "ch1", Message: "q",
	})
	assert.True(t, bundle.Empty())
}

func TestBundleFormat(t *testing.T) {
	bundle := Bundle{Items: []Item{
		{Kind: vectorstore.KindBio, Content: "loves hiking"},
		{Kind: vectorstore.KindMessage, Content: "see you at the trailhead"},
	}}
	assert.Equal(t, "Bio: loves hiking\nMessage: see you at the trailhead\n", bundle.Format())
	assert.Empty(t, Bundle{}.Format())
}

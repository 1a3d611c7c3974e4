package narrative

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/newsify/pkg/models"
)

func testDocs() []models.Document {
	return []models.Document{
		{
			ID: "a1", SourceID: "syri", Title: "Parliament approves 2025 budget",
			PublishedAt: time.Date(2024, 12, 20, 10, 0, 0, 0, time.UTC),
			Content: models.ContentBlocks{
				{Kind: models.BlockParagraph, Payload: "Lawmakers voted 61 to 40 late on Friday. Opposition walked out."},
			},
		},
		{
			ID: "b7", SourceID: "lapsi", Title: "Budget passes after long session",
			Summary:     "Spending on health rises by ten percent. Capital projects were cut.",
			PublishedAt: time.Date(2024, 12, 20, 11, 0, 0, 0, time.UTC),
		},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      models.Narrative
		want    models.Narrative
		wantErr error
	}{
		{
			name: "clean",
			in:   models.Narrative{Title: " Budget approved ", Body: "Lawmakers voted late on Friday."},
			want: models.Narrative{Title: "Budget approved", Body: "Lawmakers voted late on Friday."},
		},
		{
			name: "leading title stripped",
			in:   models.Narrative{Title: "Budget approved", Body: "Budget approved: lawmakers voted late on Friday."},
			want: models.Narrative{Title: "Budget approved", Body: "lawmakers voted late on Friday."},
		},
		{
			name:    "body contains title",
			in:      models.Narrative{Title: "Budget approved", Body: "On Friday the budget, approved by lawmakers, passed."},
			wantErr: ErrOverlap,
		},
		{
			name:    "first sentence restates title",
			in:      models.Narrative{Title: "Parliament approves national budget", Body: "The national budget, parliament approves. More follows."},
			wantErr: ErrOverlap,
		},
		{
			name:    "body only title",
			in:      models.Narrative{Title: "Budget approved", Body: "Budget approved."},
			wantErr: ErrOverlap,
		},
		{
			name:    "empty title",
			in:      models.Narrative{Body: "Something happened."},
			wantErr: ErrEmptyNarrative,
		},
		{
			name:    "empty body",
			in:      models.Narrative{Title: "Something"},
			wantErr: ErrEmptyNarrative,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractive_Summarize(t *testing.T) {
	n, err := Extractive{}.Summarize(context.Background(), testDocs())
	require.NoError(t, err)
	assert.Equal(t, "Parliament approves 2025 budget", n.Title)
	assert.Equal(t, "Lawmakers voted 61 to 40 late on Friday. Spending on health rises by ten percent.", n.Body)

	_, err = Extractive{}.Summarize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyNarrative)
}

func TestClient_Summarize(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		content := "```json\n{\"title\":\"Budget approved\",\"body\":\"Budget approved. Health spending rises by ten percent.\"}\n```"
		resp := map[string]any{"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	n, err := c.Summarize(context.Background(), testDocs())
	require.NoError(t, err)
	assert.Equal(t, "Budget approved", n.Title)
	assert.Equal(t, "Health spending rises by ten percent.", n.Body)

	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "Article 1: Parliament approves 2025 budget")
	assert.Contains(t, got.Messages[1].Content, "Article 2: Budget passes after long session\nSpending on health")
}

func TestClient_SummarizeOverlapFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"title\":\"Budget approved\",\"body\":\"The budget approved today.\"}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	_, err = c.Summarize(context.Background(), testDocs())
	assert.ErrorIs(t, err, ErrOverlap)
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	_, err = c.Summarize(context.Background(), testDocs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func longDoc() models.Document {
	sentence := "The regional council approved a new transport plan that adds bus lines and extends night service across the city. "
	return models.Document{
		ID: "c3", SourceID: "syri", Title: "Council approves transport plan",
		PublishedAt: time.Date(2024, 12, 20, 12, 0, 0, 0, time.UTC),
		Content: models.ContentBlocks{
			{Kind: models.BlockParagraph, Payload: strings.Repeat(sentence, 30)},
		},
	}
}

func TestClient_SummarizeDocument(t *testing.T) {
	var got chatRequest
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resp := map[string]any{"choices": []map[string]any{{"message": map[string]string{
			"role": "assistant", "content": "  The council approved a transport plan.\nNight service is extended.  ",
		}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	summary, err := c.SummarizeDocument(context.Background(), longDoc())
	require.NoError(t, err)
	assert.Equal(t, "The council approved a transport plan. Night service is extended.", summary)
	assert.EqualValues(t, 1, calls.Load())
	assert.Nil(t, got.ResponseFormat)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, documentPrompt, got.Messages[0].Content)
	assert.True(t, strings.HasPrefix(got.Messages[1].Content, "Council approves transport plan\n\n"))
}

func TestClient_SummarizeDocumentSkipsShortOrSummarized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unexpected", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	short := testDocs()[0]
	summary, err := c.SummarizeDocument(context.Background(), short)
	require.NoError(t, err)
	assert.Empty(t, summary)

	summarized := longDoc()
	summarized.Summary = "Already summarized."
	summary, err = c.SummarizeDocument(context.Background(), summarized)
	require.NoError(t, err)
	assert.Empty(t, summary)

	disabled, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key", SummaryMinTokens: -1})
	require.NoError(t, err)
	summary, err = disabled.SummarizeDocument(context.Background(), longDoc())
	require.NoError(t, err)
	assert.Empty(t, summary)

	assert.Zero(t, calls.Load())
}

func TestClient_SummarizeDocumentHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key", SummaryMinTokens: 10})
	require.NoError(t, err)

	_, err = c.SummarizeDocument(context.Background(), longDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

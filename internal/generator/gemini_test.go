package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateBody(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{
				"parts": []map[string]string{{"text": text}},
			}},
		},
	}
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("GOOGLE_API_KEY", "test-key")
	g, err := NewGemini(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return g
}

func TestGenerateAnswer(t *testing.T) {
	var gotPrompt string
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.5-flash")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPrompt = body.Contents[0].Parts[0].Text
		json.NewEncoder(w).Encode(candidateBody("The answer is 42."))
	})

	answer, err := g.GenerateAnswer(context.Background(), "[From: doc.txt]\nsome facts", "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", answer)
	assert.Contains(t, gotPrompt, "[From: doc.txt]")
	assert.Contains(t, gotPrompt, "what is the answer?")
}

func TestGenerateJoinsParts(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{
					"parts": []map[string]string{{"text": "first "}, {"text": "second"}},
				}},
			},
		})
	})

	answer, err := g.Summarize(context.Background(), "long text")
	require.NoError(t, err)
	assert.Equal(t, "first second", answer)
}

func TestFollowUpQuestionsParsesLines(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candidateBody("1. How does it scale?\n2. What does it cost?\n3. Who maintains it?\n4. extra beyond the cap"))
	})

	qs, err := g.FollowUpQuestions(context.Background(), "ctx", "how does it work?")
	require.NoError(t, err)
	assert.Equal(t, []string{"How does it scale?", "What does it cost?", "Who maintains it?"}, qs)
}

func TestKeyPointsStripsBullets(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candidateBody("- first point\n* second point\n• third point\n---\n\nfourth point"))
	})

	points, err := g.KeyPoints(context.Background(), "document text")
	require.NoError(t, err)
	assert.Equal(t, []string{"first point", "second point", "third point", "fourth point"}, points)
}

func TestKeyPointsServerError(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := g.KeyPoints(context.Background(), "text")
	require.Error(t, err)
}

func TestGenerateRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(candidateBody("recovered"))
	})

	answer, err := g.GenerateAnswer(context.Background(), "ctx", "q")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := g.GenerateAnswer(context.Background(), "ctx", "q")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateEmptyCandidates(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	})

	_, err := g.GenerateAnswer(context.Background(), "ctx", "q")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no candidates"))
}

func TestNewGeminiMissingKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	_, err := NewGemini(Config{})
	require.Error(t, err)
}

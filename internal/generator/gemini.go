package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Generator is the opaque answer-generation capability the engine invokes
// with an assembled prompt context and a question.
type Generator interface {
	GenerateAnswer(ctx context.Context, promptContext, question string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
	FollowUpQuestions(ctx context.Context, promptContext, question string) ([]string, error)
	KeyPoints(ctx context.Context, text string) ([]string, error)
}

const systemPrompt = `You are an expert document analysis assistant. Answer using only information explicitly stated in the provided document content. Start with a direct answer to the question, include relevant details, data and quotes from the document, and clearly state when the document does not cover something. Never fabricate information that is not present in the document.`

// Gemini calls the Google Generative Language REST API.
type Gemini struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
}

// Config configures the Gemini client.
type Config struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// NewGemini creates a Gemini generation client.
func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GOOGLE_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	return &Gemini{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: t},
		maxRetries: 2,
	}, nil
}

// GenerateAnswer answers the question from the assembled document context.
func (g *Gemini) GenerateAnswer(ctx context.Context, promptContext, question string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nDOCUMENT CONTENT:\n%s\n\nUSER QUESTION: %s\n\nAnswer the question using only the document content above.",
		systemPrompt, promptContext, question)
	return g.generate(ctx, prompt)
}

// Summarize produces a brief summary of the given document text.
func (g *Gemini) Summarize(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf("Provide a concise summary of the following document, covering its main topics, key findings and important details:\n\n%s", text)
	return g.generate(ctx, prompt)
}

// FollowUpQuestions suggests up to three questions that build on the current
// one within the document context.
func (g *Gemini) FollowUpQuestions(ctx context.Context, promptContext, question string) ([]string, error) {
	prompt := fmt.Sprintf("Based on the following document context and the current question, generate 3 relevant follow-up questions that build upon the current question and explore different aspects of the topic. Return one question per line.\n\nDocument Context:\n%s\n\nCurrent Question: %s",
		promptContext, question)
	out, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return splitLines(out, 3), nil
}

// KeyPoints extracts up to ten key points from the given document text.
func (g *Gemini) KeyPoints(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf("Extract the key points from the following document as a bulleted list, one per line. Focus on main arguments, important data, key conclusions and critical insights. Return only the key points.\n\n%s", text)
	out, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return splitLines(out, 10), nil
}

// splitLines turns a line-per-item model response into a bounded list,
// stripping bullet and numbering prefixes.
func splitLines(out string, max int) []string {
	var items []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789. )")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
		if len(items) == max {
			break
		}
	}
	return items
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":     0.1,
			"topP":            0.8,
			"topK":            40,
			"maxOutputTokens": 2048,
		},
	})
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)

	var payload []byte
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := g.client.Do(req)
		if err != nil {
			if attempt < g.maxRetries {
				if werr := wait(ctx, attempt); werr != nil {
					return "", werr
				}
				continue
			}
			return "", err
		}
		payload, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt < g.maxRetries {
				if werr := wait(ctx, attempt); werr != nil {
					return "", werr
				}
				continue
			}
		}
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("generation failed: %s", resp.Status)
		}
		break
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("no candidates returned")
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	answer := strings.TrimSpace(b.String())
	if answer == "" {
		return "", errors.New("empty response")
	}
	return answer, nil
}

func wait(ctx context.Context, attempt int) error {
	d := time.Duration(1<<attempt) * 500 * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

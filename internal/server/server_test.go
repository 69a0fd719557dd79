package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdocq/internal/domain"
	"smartdocq/internal/service"
)

type stubPipeline struct {
	upload     *service.UploadResult
	uploadErr  error
	answer     *service.AnswerResult
	answerErr  error
	docs       []domain.DocumentInfo
	chunks     []domain.Chunk
	summary    string
	summaryErr error
	followUps  []string
	points     []string
	pointsErr  error
	deletedID  string

	gotFilename string
	gotOwner    string
	gotQuestion string
	gotDocScope string
}

func (s *stubPipeline) ProcessAndIndex(fileBytes []byte, filename, ownerID string) (*service.UploadResult, error) {
	s.gotFilename = filename
	s.gotOwner = ownerID
	return s.upload, s.uploadErr
}

func (s *stubPipeline) Answer(_ context.Context, question, documentScope, _ string) (*service.AnswerResult, error) {
	s.gotQuestion = question
	s.gotDocScope = documentScope
	return s.answer, s.answerErr
}

func (s *stubPipeline) DeleteDocument(documentID string) error {
	s.deletedID = documentID
	return nil
}

func (s *stubPipeline) ListDocuments() ([]domain.DocumentInfo, error) { return s.docs, nil }

func (s *stubPipeline) DocumentChunks(string) ([]domain.Chunk, error) { return s.chunks, nil }

func (s *stubPipeline) SummarizeDocument(context.Context, string) (string, error) {
	return s.summary, s.summaryErr
}

func (s *stubPipeline) FollowUpQuestions(_ context.Context, question, documentScope, _ string) ([]string, error) {
	s.gotQuestion = question
	s.gotDocScope = documentScope
	return s.followUps, nil
}

func (s *stubPipeline) KeyPoints(context.Context, string) ([]string, error) {
	return s.points, s.pointsErr
}

func newTestEcho(p *stubPipeline) http.Handler {
	h := NewHandler(p, Config{MaxUploadBytes: 1 << 20}, nil)
	return NewEcho(h)
}

func multipartUpload(t *testing.T, filename, content, ownerID string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	if ownerID != "" {
		require.NoError(t, w.WriteField("owner_id", ownerID))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUpload(t *testing.T) {
	p := &stubPipeline{upload: &service.UploadResult{DocumentID: "d1", Filename: "a.txt", ChunkCount: 3}}
	e := newTestEcho(p)

	body, ctype := multipartUpload(t, "a.txt", "hello world", "owner-9")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a.txt", p.gotFilename)
	assert.Equal(t, "owner-9", p.gotOwner)
	var res service.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "d1", res.DocumentID)
	assert.Equal(t, 3, res.ChunkCount)
}

func TestUploadMissingFile(t *testing.T) {
	e := newTestEcho(&stubPipeline{})

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadUnsupportedExtension(t *testing.T) {
	e := newTestEcho(&stubPipeline{})

	body, ctype := multipartUpload(t, "malware.exe", "MZ", "")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestUploadEmptyDocument(t *testing.T) {
	p := &stubPipeline{uploadErr: domain.ErrEmptyDocument}
	e := newTestEcho(p)

	body, ctype := multipartUpload(t, "blank.txt", "   ", "")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	p := &stubPipeline{answer: &service.AnswerResult{
		Answer:    "42",
		Citations: []domain.Citation{{Filename: "a.txt", SimilarityScore: 0.9}},
	}}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"meaning of life?","document_id":"d1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "meaning of life?", p.gotQuestion)
	assert.Equal(t, "d1", p.gotDocScope)
	var res service.AnswerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "42", res.Answer)
	require.Len(t, res.Citations, 1)
}

func TestAskRequiresQuestion(t *testing.T) {
	e := newTestEcho(&stubPipeline{})

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskErrorIsJSON(t *testing.T) {
	p := &stubPipeline{answerErr: errors.New("index unavailable")}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "index unavailable", body["error"])
}

func TestListDocuments(t *testing.T) {
	p := &stubPipeline{docs: []domain.DocumentInfo{{DocumentID: "d1", Filename: "a.txt", ChunkCount: 2}}}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunk_count":2`)
}

func TestDeleteDocument(t *testing.T) {
	p := &stubPipeline{}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/d1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "d1", p.deletedID)
}

func TestDocumentChunks(t *testing.T) {
	p := &stubPipeline{chunks: []domain.Chunk{
		{ChunkID: "d1:0", Ordinal: 0, Text: "first", Filename: "a.txt"},
	}}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/d1/chunks", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunk_index":0`)
	assert.Contains(t, rec.Body.String(), "first")
}

func TestSummary(t *testing.T) {
	p := &stubPipeline{summary: "a short document"}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/d1/summary", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a short document")
}

func TestSummaryMissingDocument(t *testing.T) {
	p := &stubPipeline{summaryErr: errors.New("document ghost not found")}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/ghost/summary", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFollowUp(t *testing.T) {
	p := &stubPipeline{followUps: []string{"What about efficiency?"}}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodPost, "/api/follow-up",
		strings.NewReader(`{"question":"how do solar panels work?","document_id":"d1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "how do solar panels work?", p.gotQuestion)
	assert.Equal(t, "d1", p.gotDocScope)
	assert.Contains(t, rec.Body.String(), "What about efficiency?")
}

func TestFollowUpRequiresQuestion(t *testing.T) {
	e := newTestEcho(&stubPipeline{})

	req := httptest.NewRequest(http.MethodPost, "/api/follow-up", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFollowUpEmptyListIsJSONArray(t *testing.T) {
	e := newTestEcho(&stubPipeline{})

	req := httptest.NewRequest(http.MethodPost, "/api/follow-up", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"follow_up_questions":[]`)
}

func TestKeyPoints(t *testing.T) {
	p := &stubPipeline{points: []string{"main argument", "key conclusion"}}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/d1/key-points", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "main argument")
	assert.Contains(t, rec.Body.String(), "key conclusion")
}

func TestKeyPointsMissingDocument(t *testing.T) {
	p := &stubPipeline{pointsErr: errors.New("document ghost not found")}
	e := newTestEcho(p)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/ghost/key-points", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	e := newTestEcho(&stubPipeline{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

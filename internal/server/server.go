package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"smartdocq/internal/domain"
	"smartdocq/internal/extract"
	"smartdocq/internal/service"
)

// Pipeline is the slice of the document service the HTTP layer needs.
type Pipeline interface {
	ProcessAndIndex(fileBytes []byte, filename, ownerID string) (*service.UploadResult, error)
	Answer(ctx context.Context, question, documentScope, ownerScope string) (*service.AnswerResult, error)
	DeleteDocument(documentID string) error
	ListDocuments() ([]domain.DocumentInfo, error)
	DocumentChunks(documentID string) ([]domain.Chunk, error)
	SummarizeDocument(ctx context.Context, documentID string) (string, error)
	FollowUpQuestions(ctx context.Context, question, documentScope, ownerScope string) ([]string, error)
	KeyPoints(ctx context.Context, documentID string) ([]string, error)
}

// Config bounds what uploads the API accepts.
type Config struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// Handler exposes the pipeline over HTTP.
type Handler struct {
	pipeline Pipeline
	cfg      Config
	logger   *log.Logger
}

// NewHandler creates the API handler set.
func NewHandler(pipeline Pipeline, cfg Config, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = extract.Extensions
	}
	return &Handler{pipeline: pipeline, cfg: cfg, logger: logger}
}

// NewEcho builds the echo instance with middleware, error handling and routes.
func NewEcho(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		h.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	api.POST("/upload", h.Upload)
	api.POST("/ask", h.Ask)
	api.POST("/follow-up", h.FollowUp)
	api.GET("/documents", h.ListDocuments)
	api.DELETE("/documents/:id", h.DeleteDocument)
	api.GET("/documents/:id/chunks", h.DocumentChunks)
	api.GET("/documents/:id/summary", h.Summary)
	api.GET("/documents/:id/key-points", h.KeyPoints)
	return e
}

// Upload accepts one multipart file and indexes it.
func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file field")
	}
	if err := extract.Validate(fh.Filename, fh.Size, h.cfg.MaxUploadBytes, h.cfg.AllowedExtensions); err != nil {
		return uploadError(err)
	}
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, h.cfg.MaxUploadBytes+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		return uploadError(&domain.FileTooLargeError{Size: int64(len(data)), Limit: h.cfg.MaxUploadBytes})
	}

	ownerID := c.FormValue("owner_id")
	res, err := h.pipeline.ProcessAndIndex(data, fh.Filename, ownerID)
	if err != nil {
		return uploadError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

type askRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
}

// Ask answers a question over the indexed documents.
func (h *Handler) Ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	res, err := h.pipeline.Answer(c.Request().Context(), req.Question, req.DocumentID, req.OwnerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// FollowUp suggests follow-up questions for the current question.
func (h *Handler) FollowUp(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	questions, err := h.pipeline.FollowUpQuestions(c.Request().Context(), req.Question, req.DocumentID, req.OwnerID)
	if err != nil {
		return err
	}
	if questions == nil {
		questions = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"follow_up_questions": questions})
}

// ListDocuments returns the distinct indexed documents.
func (h *Handler) ListDocuments(c echo.Context) error {
	docs, err := h.pipeline.ListDocuments()
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []domain.DocumentInfo{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"documents": docs})
}

// DeleteDocument removes a document and all its chunks.
func (h *Handler) DeleteDocument(c echo.Context) error {
	id := c.Param("id")
	if err := h.pipeline.DeleteDocument(id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"document_id": id, "status": "deleted"})
}

type chunkView struct {
	ChunkID  string `json:"chunk_id"`
	Ordinal  int    `json:"chunk_index"`
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

// DocumentChunks returns a document's chunks in order.
func (h *Handler) DocumentChunks(c echo.Context) error {
	id := c.Param("id")
	chunks, err := h.pipeline.DocumentChunks(id)
	if err != nil {
		return err
	}
	views := make([]chunkView, len(chunks))
	for i, ch := range chunks {
		views[i] = chunkView{ChunkID: ch.ChunkID, Ordinal: ch.Ordinal, Text: ch.Text, Filename: ch.Filename}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"document_id": id, "chunks": views})
}

// Summary returns a model or extractive summary of the document.
func (h *Handler) Summary(c echo.Context) error {
	id := c.Param("id")
	summary, err := h.pipeline.SummarizeDocument(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"document_id": id, "summary": summary})
}

// KeyPoints returns the document's key points.
func (h *Handler) KeyPoints(c echo.Context) error {
	id := c.Param("id")
	points, err := h.pipeline.KeyPoints(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if points == nil {
		points = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"document_id": id, "key_points": points})
}

// uploadError maps extraction and validation failures to client error codes.
func uploadError(err error) error {
	var unsupported *domain.UnsupportedFileTypeError
	var tooLarge *domain.FileTooLargeError
	switch {
	case errors.As(err, &unsupported):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &tooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusBadRequest, "document contains no extractable text")
	default:
		return err
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"smartdocq/internal/domain"
	"smartdocq/internal/extract"
	"smartdocq/internal/generator"
)

const (
	defaultTopK = 5

	noInfoAnswer   = "I couldn't find relevant information in the document to answer your question."
	fallbackAnswer = "I apologize, but I encountered an error while processing your question. Please try again."
)

// Summarizer produces offline extractive summaries and key points when the
// generation model is unavailable.
type Summarizer interface {
	Summarize(text string) (string, error)
	KeyPoints(text string) ([]string, error)
}

// UploadResult reports the outcome of indexing one uploaded file.
type UploadResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
	SizeBytes  int64  `json:"size_bytes"`
	Truncated  bool   `json:"truncated"`
	Degraded   bool   `json:"degraded"`
}

// AnswerResult is a generated answer with the passages it was grounded on.
// Degraded is true when the answer was produced without full semantic
// retrieval or when generation itself failed.
type AnswerResult struct {
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Degraded  bool              `json:"degraded"`
}

// Service orchestrates the document pipeline end to end: extract, chunk,
// embed, index on upload; retrieve, assemble, generate on question.
type Service struct {
	chunker   domain.Chunker
	embedder  domain.Embedder
	index     domain.Index
	retriever domain.Retriever
	assembler domain.Assembler
	generator generator.Generator
	fallback  Summarizer
	batchSize int
	topK      int
	logger    *log.Logger
}

// New assembles the pipeline service. A nil generator disables model-backed
// answers and summaries; questions then return the apology text.
func New(chunker domain.Chunker, embedder domain.Embedder, index domain.Index, retriever domain.Retriever, assembler domain.Assembler, gen generator.Generator, fallback Summarizer, batchSize int, logger *log.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SERVICE] ", log.LstdFlags)
	}
	return &Service{
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		retriever: retriever,
		assembler: assembler,
		generator: gen,
		fallback:  fallback,
		batchSize: batchSize,
		topK:      defaultTopK,
		logger:    logger,
	}
}

// ProcessAndIndex extracts text from the uploaded file, chunks it, embeds
// the chunks in batches and stores them in the index under a fresh document
// ID. Batches are indexed independently, so a failure partway through can
// leave earlier batches behind; re-uploading the file assigns a new ID.
func (s *Service) ProcessAndIndex(fileBytes []byte, filename, ownerID string) (*UploadResult, error) {
	text, err := extract.Text(fileBytes, filename)
	if err != nil {
		return nil, err
	}
	chunks, truncated, err := s.chunker.Split(text)
	if err != nil {
		return nil, err
	}
	if truncated {
		s.logger.Printf("document %q truncated at %d chunks", filename, len(chunks))
	}

	docID := uuid.NewString()
	degraded := false
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		if err := s.indexBatch(batch, start, docID, filename, ownerID, &degraded); err != nil {
			return nil, fmt.Errorf("index batch at chunk %d: %w", start, err)
		}
	}

	if degraded {
		s.logger.Printf("document %q indexed with degraded embeddings", filename)
	}
	return &UploadResult{
		DocumentID: docID,
		Filename:   filename,
		ChunkCount: len(chunks),
		SizeBytes:  int64(len(fileBytes)),
		Truncated:  truncated,
		Degraded:   degraded,
	}, nil
}

// indexBatch embeds one batch and adds it to the index. If the index healed
// between embedding and adding, the stamped generation is stale; the batch is
// embedded once more under the new generation and retried.
func (s *Service) indexBatch(texts []string, ordinalBase int, docID, filename, ownerID string, degraded *bool) error {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.embedder.Embed(texts)
		if err != nil {
			return err
		}
		if res.Degraded {
			*degraded = true
		}
		entries := make([]domain.Entry, len(texts))
		for i, text := range texts {
			ordinal := ordinalBase + i
			entries[i] = domain.Entry{
				ID:     fmt.Sprintf("%s:%d", docID, ordinal),
				Vector: res.Vectors[i],
				Text:   text,
				Metadata: domain.Metadata{
					DocumentID:   docID,
					Filename:     filename,
					ChunkOrdinal: ordinal,
					OwnerID:      ownerID,
					Generation:   res.Generation,
				},
			}
		}
		err = s.index.Add(entries)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrStaleGeneration) && attempt == 0 {
			s.logger.Printf("index generation moved during embed, re-embedding batch")
			continue
		}
		return err
	}
	return domain.ErrStaleGeneration
}

// Answer retrieves the passages most relevant to the question, assembles
// them into a prompt context and asks the generation model. Retrieval and
// generation failures degrade to canned answers rather than erroring.
func (s *Service) Answer(ctx context.Context, question, documentScope, ownerScope string) (*AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("empty question")
	}

	hits, degraded, err := s.retriever.Retrieve(question, s.topK, documentScope, ownerScope)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &AnswerResult{Answer: noInfoAnswer, Citations: []domain.Citation{}, Degraded: degraded}, nil
	}

	rc := s.assembler.Assemble(hits)
	if s.generator == nil {
		return &AnswerResult{Answer: fallbackAnswer, Citations: rc.Citations, Degraded: true}, nil
	}
	answer, err := s.generator.GenerateAnswer(ctx, rc.PromptText, question)
	if err != nil {
		s.logger.Printf("answer generation failed: %v", err)
		return &AnswerResult{Answer: fallbackAnswer, Citations: rc.Citations, Degraded: true}, nil
	}
	return &AnswerResult{Answer: answer, Citations: rc.Citations, Degraded: degraded}, nil
}

// DeleteDocument removes every chunk of the document from the index.
// Deleting an unknown document is a no-op.
func (s *Service) DeleteDocument(documentID string) error {
	if documentID == "" {
		return errors.New("empty document id")
	}
	return s.index.Delete(domain.Filter{DocumentID: documentID})
}

// ListDocuments returns the distinct documents currently indexed.
func (s *Service) ListDocuments() ([]domain.DocumentInfo, error) {
	return s.index.ListDocuments()
}

// DocumentChunks returns the document's chunks in ordinal order.
func (s *Service) DocumentChunks(documentID string) ([]domain.Chunk, error) {
	if documentID == "" {
		return nil, errors.New("empty document id")
	}
	entries, err := s.index.Get(domain.Filter{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, len(entries))
	for i, e := range entries {
		chunks[i] = domain.Chunk{
			ChunkID:    e.ID,
			DocumentID: e.Metadata.DocumentID,
			Ordinal:    e.Metadata.ChunkOrdinal,
			Text:       e.Text,
			Filename:   e.Metadata.Filename,
			OwnerID:    e.Metadata.OwnerID,
		}
	}
	return chunks, nil
}

// FollowUpQuestions suggests questions that build on the current one, based
// on the passages most relevant to it. Failures and empty retrievals both
// yield an empty list rather than an error.
func (s *Service) FollowUpQuestions(ctx context.Context, question, documentScope, ownerScope string) ([]string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("empty question")
	}
	if s.generator == nil {
		return []string{}, nil
	}
	hits, _, err := s.retriever.Retrieve(question, 3, documentScope, ownerScope)
	if err != nil || len(hits) == 0 {
		return []string{}, nil
	}
	rc := s.assembler.Assemble(hits)
	questions, err := s.generator.FollowUpQuestions(ctx, rc.PromptText, question)
	if err != nil {
		s.logger.Printf("follow-up generation failed: %v", err)
		return []string{}, nil
	}
	return questions, nil
}

// KeyPoints extracts the document's key points with the generation model,
// falling back to the extractive ranker when the model fails.
func (s *Service) KeyPoints(ctx context.Context, documentID string) ([]string, error) {
	text, err := s.documentText(documentID)
	if err != nil {
		return nil, err
	}
	if s.generator != nil {
		points, err := s.generator.KeyPoints(ctx, text)
		if err == nil {
			return points, nil
		}
		s.logger.Printf("model key points failed, using extractive fallback: %v", err)
	}
	if s.fallback == nil {
		return nil, errors.New("no summarizer available")
	}
	return s.fallback.KeyPoints(text)
}

// SummarizeDocument summarizes the document's full text with the generation
// model, falling back to the extractive summarizer when the model fails.
func (s *Service) SummarizeDocument(ctx context.Context, documentID string) (string, error) {
	text, err := s.documentText(documentID)
	if err != nil {
		return "", err
	}
	if s.generator != nil {
		summary, err := s.generator.Summarize(ctx, text)
		if err == nil {
			return summary, nil
		}
		s.logger.Printf("model summary failed, using extractive fallback: %v", err)
	}
	if s.fallback == nil {
		return "", errors.New("no summarizer available")
	}
	return s.fallback.Summarize(text)
}

// documentText reassembles a document's full text from its chunks in
// ordinal order.
func (s *Service) documentText(documentID string) (string, error) {
	chunks, err := s.DocumentChunks(documentID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("document %s not found", documentID)
	}
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Text
	}
	return strings.Join(parts, "\n"), nil
}

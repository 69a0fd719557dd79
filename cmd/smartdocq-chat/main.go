package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"smartdocq/internal/assembler"
	"smartdocq/internal/chunker"
	"smartdocq/internal/config"
	"smartdocq/internal/domain"
	"smartdocq/internal/embedding"
	"smartdocq/internal/embedding/openai"
	"smartdocq/internal/embedding/tfidf"
	"smartdocq/internal/generator"
	"smartdocq/internal/index"
	"smartdocq/internal/retriever"
	"smartdocq/internal/service"
	"smartdocq/internal/summarizer"
	"smartdocq/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, docID string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&docID, "document", "", "Restrict questions to one document ID")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	idx, err := index.Open(index.Config{DataDir: cfg.Index.DataDir, Collection: cfg.Index.Collection})
	if err != nil {
		log.Fatalf("index init failed: %v", err)
	}
	defer idx.Close()

	var strategies []domain.EmbeddingStrategy
	if cfg.Embedder.Local.Enabled {
		if client, err := openai.NewClient(openai.Config{
			Name:      "local",
			BaseURL:   cfg.Embedder.Local.BaseURL,
			APIKeyEnv: cfg.Embedder.Local.APIKeyEnv,
			Model:     cfg.Embedder.Local.Model,
			Dimension: cfg.Embedder.Local.Dimension,
			Timeout:   time.Duration(cfg.Embedder.Local.TimeoutSecs) * time.Second,
		}); err == nil {
			strategies = append(strategies, client)
		}
	}
	if cfg.Embedder.OpenAI.Enabled {
		if client, err := openai.NewClient(openai.Config{
			Name:      "openai",
			BaseURL:   cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
			Model:     cfg.Embedder.OpenAI.Model,
			Dimension: cfg.Embedder.OpenAI.Dimension,
			Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
		}); err == nil {
			strategies = append(strategies, client)
		}
	}
	strategies = append(strategies, tfidf.NewVectorizer(cfg.Embedder.MaxFeatures))

	emb := embedding.NewCascade(strategies, idx.Dimension, nil)
	idx.SetResetHook(emb.Reset)
	emb.Reset(idx.Generation())

	var gen generator.Generator
	if gemini, err := generator.NewGemini(generator.Config{
		APIKeyEnv: cfg.Generator.APIKeyEnv,
		Model:     cfg.Generator.Model,
		Timeout:   time.Duration(cfg.Generator.TimeoutSecs) * time.Second,
	}); err == nil {
		gen = gemini
	} else {
		log.Printf("answer generation disabled: %v", err)
	}

	svc := service.New(
		chunker.NewRecursiveChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap, cfg.Chunker.MaxChunks),
		emb,
		idx,
		retriever.New(emb, idx, nil),
		assembler.New(),
		gen,
		summarizer.NewExtractive(cfg.Summary.MaxSentences),
		cfg.Embedder.BatchSize,
		nil,
	)

	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		res, err := svc.ProcessAndIndex(data, filepath.Base(path), "")
		if err != nil {
			log.Fatalf("index %s: %v", path, err)
		}
		log.Printf("indexed %s as %s (%d chunks)", path, res.DocumentID, res.ChunkCount)
	}

	m := tui.New(svc, docID)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatal(err)
	}
}

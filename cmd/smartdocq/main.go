package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	"smartdocq/internal/server"
	"smartdocq/internal/service"
	"smartdocq/internal/summarizer"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/smartdocq/config.yaml if not provided)")
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

	svc, idx := buildPipeline(cfg)
	defer idx.Close()

	h := server.NewHandler(svc, server.Config{
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		AllowedExtensions: cfg.Server.AllowedExtensions,
	}, nil)
	e := server.NewEcho(h)

	go func() {
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// buildPipeline assembles the embedding ladder, index and pipeline service
// from the configuration.
func buildPipeline(cfg *config.AppConfig) (*service.Service, *index.Store) {
	ch := chunker.NewRecursiveChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap, cfg.Chunker.MaxChunks)

	idx, err := index.Open(index.Config{DataDir: cfg.Index.DataDir, Collection: cfg.Index.Collection})
	if err != nil {
		log.Fatalf("index init failed: %v", err)
	}

	var strategies []domain.EmbeddingStrategy
	if cfg.Embedder.Local.Enabled {
		client, err := openai.NewClient(openai.Config{
			Name:      "local",
			BaseURL:   cfg.Embedder.Local.BaseURL,
			APIKeyEnv: cfg.Embedder.Local.APIKeyEnv,
			Model:     cfg.Embedder.Local.Model,
			Dimension: cfg.Embedder.Local.Dimension,
			Timeout:   time.Duration(cfg.Embedder.Local.TimeoutSecs) * time.Second,
		})
		if err != nil {
			log.Printf("local embedder unavailable: %v", err)
		} else {
			strategies = append(strategies, client)
		}
	}
	if cfg.Embedder.OpenAI.Enabled {
		client, err := openai.NewClient(openai.Config{
			Name:      "openai",
			BaseURL:   cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
			Model:     cfg.Embedder.OpenAI.Model,
			Dimension: cfg.Embedder.OpenAI.Dimension,
			Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			log.Printf("hosted embedder unavailable: %v", err)
		} else {
			strategies = append(strategies, client)
		}
	}
	strategies = append(strategies, tfidf.NewVectorizer(cfg.Embedder.MaxFeatures))

	emb := embedding.NewCascade(strategies, idx.Dimension, nil)
	idx.SetResetHook(emb.Reset)
	emb.Reset(idx.Generation())

	var gen generator.Generator
	gemini, err := generator.NewGemini(generator.Config{
		APIKeyEnv: cfg.Generator.APIKeyEnv,
		Model:     cfg.Generator.Model,
		Timeout:   time.Duration(cfg.Generator.TimeoutSecs) * time.Second,
	})
	if err != nil {
		log.Printf("answer generation disabled: %v", err)
	} else {
		gen = gemini
	}

	svc := service.New(
		ch,
		emb,
		idx,
		retriever.New(emb, idx, nil),
		assembler.New(),
		gen,
		summarizer.NewExtractive(cfg.Summary.MaxSentences),
		cfg.Embedder.BatchSize,
		nil,
	)
	return svc, idx
}

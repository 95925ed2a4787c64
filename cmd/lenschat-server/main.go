package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/optichem/lenschat/internal/chatstore"
	"github.com/optichem/lenschat/internal/config"
	"github.com/optichem/lenschat/internal/conversation"
	"github.com/optichem/lenschat/internal/docstore"
	"github.com/optichem/lenschat/internal/export"
	"github.com/optichem/lenschat/internal/httpapi"
	"github.com/optichem/lenschat/internal/llm"
	"github.com/optichem/lenschat/internal/retrieval"
	"github.com/optichem/lenschat/internal/router"
	"github.com/optichem/lenschat/internal/telemetry"
	"github.com/optichem/lenschat/internal/userstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	shutdown, err := telemetry.Setup(context.Background(), "lenschat-server", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("telemetry setup: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	chats, err := chatstore.Open(cfg.ChatDBPath)
	if err != nil {
		log.Fatalf("open chat store (%s): %v", cfg.ChatDBPath, err)
	}
	defer chats.Close()

	docs, err := docstore.Open(cfg.DocDBPath)
	if err != nil {
		log.Fatalf("open document store (%s): %v", cfg.DocDBPath, err)
	}
	defer docs.Close()

	users, err := userstore.Open(cfg.UserDBPath)
	if err != nil {
		log.Fatalf("open user store (%s): %v", cfg.UserDBPath, err)
	}
	defer users.Close()

	completer, err := llm.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.LLMTimeout)
	if err != nil {
		log.Fatalf("anthropic client: %v", err)
	}

	manager := conversation.NewManager(chats, completer, cfg.HistoryThreshold)
	retriever := retrieval.NewRetriever(docs)
	chatRouter := router.New(completer, retriever, manager, cfg.MaxPassages)
	exporter := export.New(export.NewChromiumRenderer())

	handler := httpapi.NewServer(chats, docs, users, chatRouter, exporter)
	addr := ":" + cfg.Port
	log.Printf("lenschat-server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal(err)
	}
}

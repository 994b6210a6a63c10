package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/config"
	"mingling-chat/internal/llm"
	"mingling-chat/internal/mcpserver"
	"mingling-chat/internal/session"
	"mingling-chat/internal/storage"
)

func main() {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	responder, err := llm.NewFactory(cfg).CreateResponder(string(cfg.LLMProvider), cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("❌ failed to create responder: %v", err)
	}

	opts := []session.Option{
		session.WithOwner("mcp"),
		session.WithResponseTimeout(cfg.ResponseTimeout),
	}
	if cfg.LogFilePath != "" {
		if fr, err := storage.NewFileRecorder(cfg.LogFilePath); err != nil {
			log.Printf("failed to init file recorder: %v", err)
		} else {
			opts = append(opts, session.WithRecorder(fr))
		}
	}

	store := attachment.NewStore(attachment.WithMaxFileSize(cfg.MaxAttachmentSize))
	defer store.Close()
	ctrl := session.New(store, responder, opts...)
	defer ctrl.Close()

	log.Printf("🚀 Starting MinglingMind chat MCP server (provider=%s)", cfg.LLMProvider)
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mingling-chat-mcp",
		Version: "1.0.0",
	}, nil)
	mcpserver.New(ctrl).Register(server)

	log.Printf("🔗 Starting server on stdin/stdout...")
	if err := server.Run(context.Background(), mcp.NewStdioTransport()); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
}

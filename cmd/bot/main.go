package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/auth"
	"mingling-chat/internal/config"
	"mingling-chat/internal/llm"
	"mingling-chat/internal/pending"
	"mingling-chat/internal/scheduler"
	"mingling-chat/internal/storage"
	"mingling-chat/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if cfg.TelegramBotToken == "" {
		log.Fatal("❌ TELEGRAM_BOT_TOKEN environment variable is required")
	}

	var allowRepo auth.Repository
	if cfg.AllowlistFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.AllowlistFilePath)
		if err != nil {
			log.Printf("failed to init allowlist repo: %v", err)
		} else {
			allowRepo = repo
		}
	}
	authSvc, err := auth.NewWithRepo(allowRepo, cfg.AllowedUsers)
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}

	var pendingRepo auth.Repository
	if cfg.PendingFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.PendingFilePath)
		if err != nil {
			log.Printf("failed to init pending repo: %v", err)
		} else {
			pendingRepo = repo
		}
	}
	queue, err := pending.NewQueue(pendingRepo)
	if err != nil {
		log.Fatalf("failed to init pending queue: %v", err)
	}

	responder, err := llm.NewFactory(cfg).CreateResponder(string(cfg.LLMProvider), cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("failed to create responder: %v", err)
	}

	var rec storage.Recorder
	if cfg.LogFilePath != "" {
		fr, err := storage.NewFileRecorder(cfg.LogFilePath)
		if err != nil {
			log.Printf("failed to init file recorder: %v", err)
		} else {
			rec = fr
		}
	}

	store := attachment.NewStore(
		attachment.WithMaxFileSize(cfg.MaxAttachmentSize),
		attachment.WithThumbnailSize(cfg.ThumbnailSize),
	)
	defer store.Close()

	bot, err := telegram.New(cfg.TelegramBotToken, authSvc, store, responder, cfg.MaxAttachmentSize,
		telegram.WithRecorder(rec),
		telegram.WithResponseTimeout(cfg.ResponseTimeout),
		telegram.WithAdmin(cfg.AdminUserID),
		telegram.WithPending(queue),
	)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}
	defer bot.Close()

	sched := scheduler.New()
	if rec != nil {
		if err := sched.Add(cfg.ReportCron, "daily-report", scheduler.DailyReport(rec, nil)); err != nil {
			log.Printf("⚠️ %v", err)
		}
	}
	if err := sched.Add(cfg.PreviewAuditCron, "preview-audit", scheduler.PreviewAudit(store.Outstanding)); err != nil {
		log.Printf("⚠️ %v", err)
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	bot.Start(ctx)
}

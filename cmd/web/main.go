package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/auth"
	"mingling-chat/internal/config"
	"mingling-chat/internal/llm"
	"mingling-chat/internal/scheduler"
	"mingling-chat/internal/storage"
	"mingling-chat/internal/web"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

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
		attachment.WithURLPrefix(web.PreviewPath),
	)
	defer store.Close()

	srv := web.NewServer(auth.NewGate(cfg.AuthDelay), store, responder,
		web.WithResponseTimeout(cfg.ResponseTimeout),
		web.WithRecorder(rec),
		web.WithMaxUpload(cfg.MaxAttachmentSize),
	)

	sched := scheduler.New()
	if err := sched.Add(cfg.SessionSweepCron, "session-sweep", func(ctx context.Context) error {
		srv.SweepIdle(cfg.SessionIdleTTL)
		return nil
	}); err != nil {
		log.Printf("⚠️ %v", err)
	}
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

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.HTTPAddr) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("❌ Web server failed: %v", err)
		}
	case <-ctx.Done():
		log.Println("🛑 Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("⚠️ shutdown: %v", err)
	}
}

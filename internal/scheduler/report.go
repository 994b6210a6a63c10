package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"mingling-chat/internal/analytics"
	"mingling-chat/internal/storage"
)

// DailyReport returns a job that summarises the current UTC day's turns
// from the recorder and logs the result.
func DailyReport(rec storage.Recorder, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		events, err := rec.LoadInteractions()
		if err != nil {
			return fmt.Errorf("load interactions: %w", err)
		}
		stats := analytics.AnalyzeDailyLogs(events, now().UTC())
		log.Printf("📊 Daily report\n%s", stats.GenerateReportSummary())
		return nil
	}
}

// PreviewAudit logs how many preview handles are still held. A count that
// only grows points at a leaking frontend.
func PreviewAudit(outstanding func() int) Job {
	return func(ctx context.Context) error {
		if n := outstanding(); n > 0 {
			log.Printf("🖼 %d preview handles outstanding", n)
		}
		return nil
	}
}

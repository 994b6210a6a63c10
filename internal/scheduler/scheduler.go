package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named periodic task.
type Job func(ctx context.Context) error

// Scheduler управляет запланированными задачами
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New создает новый планировщик (UTC)
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add регистрирует задачу по cron-выражению. Ошибки задачи только логируются.
func (s *Scheduler) Add(spec, name string, job Job) error {
	if job == nil {
		return fmt.Errorf("job %s is nil", name)
	}
	_, err := s.cron.AddFunc(spec, func() {
		log.Printf("🕘 Running scheduled job %s", name)
		if err := job(s.ctx); err != nil {
			log.Printf("❌ Scheduled job %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if len(s.cron.Entries()) == 0 {
		log.Println("⚠️ No jobs registered, scheduler will stay idle")
	}
	s.cron.Start()
	s.started = true
	log.Printf("📅 Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop отменяет контекст задач и ждет завершения запущенных
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
	log.Println("📅 Scheduler stopped")
}

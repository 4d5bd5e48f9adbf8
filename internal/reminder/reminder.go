// Package reminder scans for overdue tasks on a cron schedule and
// surfaces them as log lines and, when NATS is wired in, as
// reminder.due events.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/model"
	"github.com/t77yq/tracklet/internal/storage"
)

const dueSubject = "reminder.due"

// DueReminder is the event emitted for one overdue task
type DueReminder struct {
	ID       string    `json:"id"`
	TaskID   int64     `json:"task_id"`
	Title    string    `json:"title"`
	DueDate  time.Time `json:"due_date"`
	IssuedAt time.Time `json:"issued_at"`
}

// Scanner runs the overdue scan on a schedule
type Scanner struct {
	logger *zap.Logger
	store  *storage.Store
	js     nats.JetStreamContext // nil disables publication
	cron   *cron.Cron
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewScanner creates a scanner over the store. js may be nil.
func NewScanner(logger *zap.Logger, store *storage.Store, js nats.JetStreamContext) *Scanner {
	named := logger.Named("reminder")
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
	}

	return &Scanner{
		logger: named,
		store:  store,
		js:     js,
		cron:   cron.New(cronOptions...),
	}
}

// Start schedules the scan with the given cron expression (six-field,
// seconds first) and starts the scheduler.
func (s *Scanner) Start(ctx context.Context, expression string) error {
	if s.js != nil {
		if err := s.setupStream(); err != nil {
			return err
		}
	}

	_, err := s.cron.AddFunc(expression, func() {
		if _, err := s.Scan(ctx); err != nil {
			s.logger.Error("Overdue scan failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Started overdue scanner", zap.String("expression", expression))
	return nil
}

func (s *Scanner) setupStream() error {
	_, err := s.js.AddStream(&nats.StreamConfig{
		Name:     "REMINDERS",
		Subjects: []string{"reminder.*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  -1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create reminder stream: %w", err)
	}
	return nil
}

// Stop stops the scheduler and waits for a running scan to finish
func (s *Scanner) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Scan looks up every overdue, unfinished task, logs each, and
// publishes a DueReminder when NATS is configured. Returns the overdue
// tasks.
func (s *Scanner) Scan(ctx context.Context) ([]*model.Task, error) {
	now := time.Now()
	overdue, err := s.store.Tasks().ListOverdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	for _, task := range overdue {
		s.logger.Warn("Task is overdue",
			zap.Int64("task_id", task.ID),
			zap.String("title", task.Title),
			zap.Time("due_date", *task.DueDate),
			zap.String("status", string(task.Status)))

		if s.js == nil {
			continue
		}

		reminder := DueReminder{
			ID:       uuid.New().String(),
			TaskID:   task.ID,
			Title:    task.Title,
			DueDate:  *task.DueDate,
			IssuedAt: now,
		}
		data, err := json.Marshal(reminder)
		if err != nil {
			s.logger.Error("Failed to marshal reminder", zap.Error(err))
			continue
		}
		if _, err := s.js.Publish(dueSubject, data); err != nil {
			s.logger.Error("Failed to publish reminder",
				zap.Int64("task_id", task.ID),
				zap.Error(err))
		}
	}

	return overdue, nil
}

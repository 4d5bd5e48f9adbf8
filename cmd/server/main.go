package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/engine"
	"github.com/t77yq/tracklet/internal/events"
	"github.com/t77yq/tracklet/internal/model"
	"github.com/t77yq/tracklet/internal/reminder"
	"github.com/t77yq/tracklet/internal/storage"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("db.path", "tracklet.db")
	viper.SetDefault("db.busy_timeout", 5*time.Second)
	viper.SetDefault("nats.url", "")
	viper.SetDefault("nats.max_reconnects", 5)
	viper.SetDefault("nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("reminder.expression", "0 0 9 * * *")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Fatal("Failed to read config file", zap.Error(err))
		}
		logger.Info("No config file found, using defaults")
	}

	// Open the durable store
	store, err := storage.Open(logger, viper.GetString("db.path"), storage.Options{
		BusyTimeout: viper.GetDuration("db.busy_timeout"),
	})
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	core := engine.New(logger, store)

	// Connect to NATS when configured; the tracker runs fine without it
	var js nats.JetStreamContext
	if url := viper.GetString("nats.url"); url != "" {
		opts := []nats.Option{
			nats.Name("tracklet"),
			nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
			nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				logger.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		}
		nc, err := nats.Connect(url, opts...)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		js, err = nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}

		publisher, err := events.NewActivityPublisher(js, logger)
		if err != nil {
			logger.Fatal("Failed to create activity publisher", zap.Error(err))
		}
		core.SetPublisher(publisher)
		logger.Info("Publishing activity events", zap.String("url", nc.ConnectedUrl()))
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Start the overdue scanner
	scanner := reminder.NewScanner(logger, store, js)
	if err := scanner.Start(ctx, viper.GetString("reminder.expression")); err != nil {
		logger.Fatal("Failed to start overdue scanner", zap.Error(err))
	}
	defer scanner.Stop()

	// Seed example data on first run
	if err := seedExampleData(ctx, logger, core); err != nil {
		logger.Error("Failed to seed example data", zap.Error(err))
	}

	// Periodically report recent activity
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		since := time.Now().Add(-30 * time.Second)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				entries, err := core.ActivitySince(ctx, since)
				if err != nil {
					logger.Error("Failed to read activity", zap.Error(err))
					continue
				}
				since = time.Now()

				for _, entry := range entries {
					logger.Info("Recent activity",
						zap.String("entity_type", string(entry.EntityType)),
						zap.Int64("entity_id", entry.EntityID),
						zap.String("action", string(entry.Action)),
						zap.String("summary", entry.Summary))
				}
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Server shutting down gracefully")
}

// seedExampleData creates a small dependency chain the first time the
// server runs against an empty store.
func seedExampleData(ctx context.Context, logger *zap.Logger, core *engine.Engine) error {
	projects, err := core.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) > 0 {
		return nil
	}

	project, err := core.CreateProject(ctx, "Onboarding", "Example project created on first run")
	if err != nil {
		return err
	}
	epic, err := core.CreateEpic(ctx, project.ID, "Getting started", "")
	if err != nil {
		return err
	}

	design, err := core.CreateTask(ctx, epic.ID, engine.TaskFields{
		Title:    "Design the schema",
		Priority: model.TaskPriorityHigh,
		Tags:     []string{"example"},
	}, nil)
	if err != nil {
		return err
	}
	implement, err := core.CreateTask(ctx, epic.ID, engine.TaskFields{
		Title:    "Implement the schema",
		Priority: model.TaskPriorityMedium,
		Tags:     []string{"example"},
	}, []int64{design.ID})
	if err != nil {
		return err
	}

	logger.Info("Seeded example data",
		zap.Int64("project_id", project.ID),
		zap.Int64("design_task", design.ID),
		zap.Int64("implement_task", implement.ID),
		zap.String("implement_status", string(implement.Status)))
	return nil
}

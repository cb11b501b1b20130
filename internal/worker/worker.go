// Package worker provides async application scoring from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/scoring"
)

// Worker consumes applications from the EventBus and scores them.
// Scoring results are persisted and published by the scoring service itself;
// the worker only drives the pipeline.
type Worker struct {
	bus    domain.EventBus
	scorer *scoring.Service
	logger *slog.Logger

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Topics to consume applications from. Defaults to the score and
	// received topics when empty.
	Topics []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer *scoring.Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins consuming application messages.
func (w *Worker) Start(cfg Config) error {
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{domain.TopicApplicationScore, domain.TopicApplicationReceived}
	}

	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleMessage)
		if err != nil {
			w.logger.Error("failed to subscribe",
				"topic", topic,
				"error", err,
			)
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.logger.Info("workers started",
		"topics", topics,
	)

	return nil
}

// handleMessage parses an application payload and runs it through scoring.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var app domain.Application
	if err := json.Unmarshal(msg.Payload, &app); err != nil {
		w.logger.Error("failed to parse application message",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	w.logger.Debug("processing application",
		"application_id", app.ID,
		"farmer_id", app.FarmerID,
		"topic", msg.Topic,
	)

	assessment, err := w.scorer.Score(ctx, &app)
	if err != nil {
		w.logger.Error("scoring failed",
			"application_id", app.ID,
			"error", err,
		)
		return err
	}

	w.logger.Info("application processed",
		"application_id", assessment.ApplicationID,
		"risk_level", assessment.RiskLevel,
		"risk_score", assessment.RiskScore,
		"flagged", assessment.IsFlagged,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

// TelemetryPublisher periodically publishes health snapshots to
// JetStream so external dashboards can observe the core without calling
// into it.
type TelemetryPublisher struct {
	js       nats.JetStreamContext
	platform *Platform
	logger   *zap.Logger
	interval time.Duration
	stop     chan struct{}
}

// NewTelemetryPublisher creates a publisher for the platform's health.
func NewTelemetryPublisher(js nats.JetStreamContext, platform *Platform, interval time.Duration, logger *zap.Logger) *TelemetryPublisher {
	return &TelemetryPublisher{
		js:       js,
		platform: platform,
		logger:   logger.Named("telemetry"),
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the publish loop.
func (t *TelemetryPublisher) Start(ctx context.Context) error {
	stream, err := t.js.StreamInfo("TELEMETRY")
	if err != nil && err != nats.ErrStreamNotFound {
		return err
	}
	if stream == nil {
		_, err = t.js.AddStream(&nats.StreamConfig{
			Name:     "TELEMETRY",
			Subjects: []string{"telemetry.*"},
			MaxAge:   24 * time.Hour,
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return err
		}
	}

	go t.loop(ctx)
	t.logger.Info("Telemetry publisher started", zap.Duration("interval", t.interval))
	return nil
}

// Stop stops the publish loop.
func (t *TelemetryPublisher) Stop() {
	close(t.stop)
}

func (t *TelemetryPublisher) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.publish(t.platform.SystemHealth())
		}
	}
}

func (t *TelemetryPublisher) publish(snapshot model.HealthSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		t.logger.Error("Failed to marshal health snapshot", zap.Error(err))
		return
	}
	if _, err := t.js.Publish("telemetry.health", data); err != nil {
		t.logger.Error("Failed to publish health snapshot", zap.Error(err))
		return
	}
	t.logger.Debug("Health snapshot published",
		zap.String("status", string(snapshot.Status)),
		zap.Int("active_alerts", snapshot.ActiveAlerts))
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/metrics"
	"github.com/codepage/sandbox/internal/model"
	"github.com/codepage/sandbox/internal/monitor"
	"github.com/codepage/sandbox/internal/report"
	"github.com/codepage/sandbox/internal/sandbox"
	"github.com/codepage/sandbox/internal/service"
	"github.com/codepage/sandbox/internal/storage"
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
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Create result history storage
	history, err := storage.NewSQLiteResultStorage(logger, viper.GetString("storage.db_path"))
	if err != nil {
		logger.Fatal("Failed to create result storage", zap.Error(err))
	}
	defer history.Close()

	// Build the execution engine with platform defaults
	defaults := sandbox.DefaultConfig()
	if v := viper.GetInt64("execution.timeout_ms"); v > 0 {
		defaults.TimeoutMs = v
	}
	if v := viper.GetInt64("execution.memory_limit_bytes"); v > 0 {
		defaults.MemoryLimitBytes = uint64(v)
	}
	if v := viper.GetInt("execution.api_call_limit"); v > 0 {
		defaults.APICallLimit = v
	}
	engine := sandbox.NewEngine(defaults, logger,
		sandbox.WithAPILatency(viper.GetDuration("execution.api_latency")))

	// Observability components
	metricStore := metrics.NewStore(metrics.NewMemoryRetained(), logger)
	alertManager := monitor.NewAlertManager(metricStore, logger)
	aggregator := report.NewAggregator(logger)

	alertManager.RegisterChannel(monitor.NewLogChannel(logger))
	if viper.GetBool("alerts.email.enabled") {
		alertManager.RegisterChannel(monitor.NewEmailChannel(monitor.EmailConfig{
			Host:       viper.GetString("alerts.email.host"),
			Port:       viper.GetInt("alerts.email.port"),
			Username:   viper.GetString("alerts.email.username"),
			Password:   viper.GetString("alerts.email.password"),
			From:       viper.GetString("alerts.email.from"),
			Recipients: viper.GetStringSlice("alerts.email.recipients"),
		}))
	}

	platform := service.NewPlatform(engine, aggregator, metricStore, alertManager, history, logger)

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

	// Optional NATS wiring: alert channel + health telemetry
	var telemetry *service.TelemetryPublisher
	if url := viper.GetString("nats.url"); url != "" {
		nc, err := connectNATS(url, logger)
		if err != nil {
			logger.Warn("NATS unavailable, continuing without it", zap.Error(err))
		} else {
			defer nc.Close()
			js, err := nc.JetStream()
			if err != nil {
				logger.Fatal("Failed to create JetStream context", zap.Error(err))
			}
			channel, err := monitor.NewNATSChannel(js)
			if err != nil {
				logger.Fatal("Failed to create NATS alert channel", zap.Error(err))
			}
			alertManager.RegisterChannel(channel)

			telemetry = service.NewTelemetryPublisher(js, platform, 30*time.Second, logger)
			if err := telemetry.Start(ctx); err != nil {
				logger.Fatal("Failed to start telemetry publisher", zap.Error(err))
			}
			defer telemetry.Stop()
		}
	}

	// Default alert rules from config
	for _, name := range viper.GetStringSlice("alerts.default_rules") {
		prefix := "alerts.rules." + name
		rule := &model.AlertRule{
			Name:          name,
			Kind:          model.AlertRuleKind(viper.GetString(prefix + ".kind")),
			MetricName:    viper.GetString(prefix + ".metric"),
			Condition:     model.AlertCondition(viper.GetString(prefix + ".condition")),
			Threshold:     viper.GetFloat64(prefix + ".threshold"),
			WindowMinutes: viper.GetInt(prefix + ".window_minutes"),
			Active:        true,
		}
		if err := platform.CreateAlertRule(rule); err != nil {
			logger.Error("Failed to create default alert rule",
				zap.String("rule", name),
				zap.Error(err))
		}
	}

	// Scheduled maintenance: metrics flush and history cleanup
	maintenance := cron.New()
	maintenance.AddFunc("@every 1m", func() {
		if err := platform.FlushMetrics(ctx); err != nil {
			logger.Error("Scheduled metrics flush failed", zap.Error(err))
		}
	})
	maintenance.AddFunc("@daily", func() {
		cutoff := time.Now().AddDate(0, 0, -viper.GetInt("storage.retention_days"))
		if err := platform.CleanupHistory(ctx, cutoff); err != nil {
			logger.Error("History cleanup failed", zap.Error(err))
		}
	})
	maintenance.Start()
	defer maintenance.Stop()

	// Run a smoke-test script so a fresh deployment shows up in reports
	result := platform.Execute(ctx, "platform", "startup", `
		const pages = api.query({kind: "page"});
		console.log("fixture pages:", pages.length);
		pages.length > 0;
	`, nil, model.ExecutionConfig{})
	logger.Info("Startup execution finished",
		zap.String("status", string(result.Status)),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs))

	// Periodic health logging
	go func() {
		ticker := time.NewTicker(viper.GetDuration("health.interval"))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := platform.SystemHealth()
				logger.Info("System health",
					zap.String("status", string(snapshot.Status)),
					zap.Int("active_alerts", snapshot.ActiveAlerts),
					zap.Float64("cpu_percent", snapshot.CPUPercent),
					zap.Float64("memory_percent", snapshot.MemoryPercent))
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Flush whatever is still buffered before exiting
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := platform.FlushMetrics(flushCtx); err != nil {
		logger.Error("Final metrics flush failed", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
}

// connectNATS dials NATS with retry, mirroring reconnect behavior the
// rest of the system expects.
func connectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("codepage-sandbox"),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}

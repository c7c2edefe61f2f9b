package monitor

import (
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

// LogChannel writes alerts to the structured log.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log-backed notification channel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("alert-log")}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(alert *model.Alert) error {
	c.logger.Warn("ALERT",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("trigger_value", alert.TriggerValue),
		zap.Float64("threshold", alert.Threshold),
		zap.String("message", alert.Message))
	return nil
}

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	config EmailConfig
}

// NewEmailChannel creates an SMTP-backed notification channel.
func NewEmailChannel(config EmailConfig) *EmailChannel {
	return &EmailChannel{config: config}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(alert *model.Alert) error {
	if len(c.config.Recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	auth := smtp.PlainAuth("",
		c.config.Username,
		c.config.Password,
		c.config.Host)

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: [%s] %s\r\n"+
		"\r\n"+
		"%s\r\n\r\nTrigger value: %g (threshold %g)\r\n",
		c.config.From,
		c.config.Recipients[0],
		alert.Severity,
		alert.RuleID,
		alert.Message,
		alert.TriggerValue,
		alert.Threshold)

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	return smtp.SendMail(addr, auth, c.config.From, c.config.Recipients, []byte(msg))
}

// NATSChannel publishes alerts to a JetStream subject so downstream
// consumers (dashboards, pagers) can react.
type NATSChannel struct {
	js nats.JetStreamContext
}

// NewNATSChannel creates a JetStream-backed notification channel. The
// ALERTS stream is created if it does not exist.
func NewNATSChannel(js nats.JetStreamContext) (*NATSChannel, error) {
	stream, err := js.StreamInfo("ALERTS")
	if err != nil && err != nats.ErrStreamNotFound {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     "ALERTS",
			Subjects: []string{"alert.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}
	return &NATSChannel{js: js}, nil
}

func (c *NATSChannel) Name() string { return "nats" }

func (c *NATSChannel) Send(alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	_, err = c.js.Publish("alert."+string(alert.Severity), data)
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

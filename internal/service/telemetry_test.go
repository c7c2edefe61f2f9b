package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
	"github.com/codepage/sandbox/internal/testutil"
)

func TestTelemetryPublisher_PublishesHealth(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger, _ := zap.NewDevelopment()
	p := newTestPlatform(t)

	pub := NewTelemetryPublisher(js, p, 50*time.Millisecond, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pub.Start(ctx))
	defer pub.Stop()

	sub, err := js.SubscribeSync("telemetry.health")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var snapshot model.HealthSnapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
	require.NotEmpty(t, snapshot.Status)
	require.False(t, snapshot.CollectedAt.IsZero())
}

package queue

import (
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		kind models.TestKind
		want uint8
	}{
		{models.TestKindMediaCheck, MaxPriority},
		{models.TestKindLaunch, 5},
		{models.TestKindSimple, 5},
		{models.TestKindRTSP, 1},
		{models.TestKindTranscoding, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, priorityFor(&models.TestSpec{Kind: tt.kind}))
		})
	}
}

func TestNewPublishing(t *testing.T) {
	msg := &TestMessage{
		RunID: "run-1",
		Test: models.TestSpec{
			Classname: "file.playback.play_15s.a_mkv",
			Kind:      models.TestKindLaunch,
			Argv:      []string{"gst-validate-1.0", "playbin", "uri=file:///a.mkv"},
			Timeout:   30 * time.Second,
		},
	}

	p, err := newPublishing(msg, amqp.Table{"x-retry-count": int32(2)})
	require.NoError(t, err)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.Equal(t, "application/json", p.ContentType)
	assert.Equal(t, uint8(5), p.Priority)
	assert.Equal(t, "run-1", p.Headers["x-run-id"])
	assert.Equal(t, "file.playback.play_15s.a_mkv", p.Headers["x-classname"])
	assert.Equal(t, int32(2), p.Headers["x-retry-count"])

	decoded, err := decodeMessage(p.Body)
	require.NoError(t, err)
	assert.Equal(t, msg.Test.Argv, decoded.Test.Argv)
	assert.Equal(t, 30*time.Second, decoded.Test.Timeout)
}

func TestDecodeMessage(t *testing.T) {
	_, err := decodeMessage([]byte("not json"))
	assert.Error(t, err)

	body, err := json.Marshal(TestMessage{RunID: "run-1"})
	require.NoError(t, err)
	_, err = decodeMessage(body)
	assert.Error(t, err)
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{"x-retry-count": "two"}))
	assert.Equal(t, 2, retryCount(amqp.Table{"x-retry-count": int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{"x-retry-count": int64(3)}))
	assert.Equal(t, 1, retryCount(amqp.Table{"x-retry-count": 1}))
}

func TestCalculateBackoffDelay(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{5, 10 * time.Minute},
		{10, 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.retries), func(t *testing.T) {
			assert.Equal(t, tt.want, calculateBackoffDelay(tt.retries))
		})
	}
}

func TestQueueIntegration(t *testing.T) {
	host := os.Getenv("TESTMATRIX_QUEUE_HOST")
	if host == "" {
		t.Skip("TESTMATRIX_QUEUE_HOST not set")
	}

	q, err := New(config.QueueConfig{Host: host, Port: 5672, User: "guest", Password: "guest", Vhost: "/"}, nil)
	require.NoError(t, err)
	defer q.Close()

	published, err := q.PublishRun(t.Context(), &models.Manifest{
		RunID: "integration",
		Tests: []models.TestSpec{
			{Classname: "file.media_check.a_mkv", Kind: models.TestKindMediaCheck},
			{Classname: "file.playback.reverse_playback.a_webm", Kind: models.TestKindLaunch, Skip: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvoe/cliphub/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("S3_ACCESS_KEY", "key")
	t.Setenv("S3_SECRET_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 30*time.Second, cfg.Poller.BackoffCeiling)
	assert.Equal(t, 30.0, cfg.Intake.MaxDurationSeconds)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)

	req := cfg.Processing.RequiredSet()
	assert.True(t, req[domain.JobTypeTranscode])
	assert.True(t, req[domain.JobTypeHLSGeneration])
	assert.False(t, req[domain.JobTypeTranscription])
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("S3_ACCESS_KEY", "key")
	t.Setenv("S3_SECRET_KEY", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REQUIRED_JOB_TYPES", "transcode,transcription")
	t.Setenv("POLL_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 500*time.Millisecond, cfg.Poller.Interval)
	req := cfg.Processing.RequiredSet()
	assert.True(t, req[domain.JobTypeTranscription])
	assert.False(t, req[domain.JobTypeThumbnail])
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		t.Setenv("S3_ACCESS_KEY", "")
		_, err := Load()
		assert.ErrorContains(t, err, "S3_ACCESS_KEY")
	})

	t.Run("unknown job type", func(t *testing.T) {
		t.Setenv("S3_ACCESS_KEY", "key")
		t.Setenv("S3_SECRET_KEY", "secret")
		t.Setenv("REQUIRED_JOB_TYPES", "transcode,upscale")
		_, err := Load()
		assert.ErrorContains(t, err, "upscale")
	})
}

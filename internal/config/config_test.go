package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "kafka", cfg.NotifyMode)
	assert.False(t, cfg.RejectEmptyCart)
	assert.Equal(t, 587, cfg.SMTPPort)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REJECT_EMPTY_CART", "true")
	t.Setenv("SMTP_HOST", "mail.internal")
	t.Setenv("MAILER_WORKERS", "16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RejectEmptyCart)
	assert.Equal(t, "mail.internal", cfg.SMTPHost)
	assert.Equal(t, 16, cfg.MailerWorkers)
}

func TestLoadRejectsBadValue(t *testing.T) {
	t.Setenv("MAILER_WORKERS", "many")

	_, err := Load()
	assert.Error(t, err)
}

package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"VOICE_API_URL", "RABBITMQ_EXCHANGE", "VOICE_DEFAULT_ID", "VOICE_FALLBACK_ID"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anonvid.video", cfg.RabbitMQExchange)
	assert.Equal(t, "hi-IN-rahul", cfg.DefaultVoice)
	assert.Equal(t, "en-IN-eashwar", cfg.FallbackVoice)
}

func TestLoadVoiceAPIURLIsEndpointBase(t *testing.T) {
	os.Unsetenv("VOICE_API_URL")

	cfg, err := Load()
	require.NoError(t, err)

	// The voice gateway appends the /convert route itself.
	assert.Equal(t, "https://api.murf.ai/v1/voice-changer", cfg.VoiceAPIURL)
	assert.False(t, strings.HasSuffix(cfg.VoiceAPIURL, "/convert"))
}

// Package config_test tests the configuration loading for the narrator service.
package config_test

import (
	"testing"

	"github.com/narravox/narrator/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
chapter_job_subject = "narrator.chapter.synthesize"
chapter_stream_subject = "narrator.chapter.stream"
book_register_subject = "narrator.book.register"
range_job_subject = "narrator.book.range"
text_object_store_bucket = "CHAPTER_TEXT"
audio_object_store_bucket = "CHAPTER_AUDIO"

[engine]
service_url = "http://localhost:8880"
timeout_seconds = 300

[audio]
bitrate_kbps = 48

[telegram]
token = "123456:test-token"
chat_id = "-1000"

[cache]
database_path = "narrator.db"

[session]
max_entries = 64
ttl_minutes = 120

[synthesis]
max_temperature_c = 85.0
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "narrator.chapter.synthesize", cfg.NATS.ChapterJobSubject)
	assert.Equal(t, "narrator.chapter.stream", cfg.NATS.ChapterStreamSubject)
	assert.Equal(t, "narrator.book.register", cfg.NATS.BookRegisterSubject)
	assert.Equal(t, "narrator.book.range", cfg.NATS.RangeJobSubject)
	assert.Equal(t, "CHAPTER_TEXT", cfg.NATS.TextObjectStoreBucket)
	assert.Equal(t, "CHAPTER_AUDIO", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "http://localhost:8880", cfg.Engine.ServiceURL)
	assert.Equal(t, 300, cfg.Engine.TimeoutSeconds)
	assert.Equal(t, 48, cfg.Audio.BitrateKbps)
	assert.Equal(t, "123456:test-token", cfg.Telegram.Token)
	assert.Equal(t, "narrator.db", cfg.Cache.DatabasePath)
	assert.Equal(t, 64, cfg.Session.MaxEntries)
	assert.Equal(t, 120, cfg.Session.TTLMinutes)
	assert.InEpsilon(t, 85.0, cfg.Synthesis.MaxTemperatureC, 0.001)
}

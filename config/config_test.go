package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "PIPELINE_MAX_CONCURRENT", "PIPELINE_STALE_AFTER", "STATUS_CACHE_TTL", "CRON_ENABLED", "COMPLETION_RPS", "REDIS_NAMESPACE"} {
		t.Setenv(key, "")
	}

	env, err := Get()
	require.NoError(t, err)
	assert.Equal(t, 8080, env.PORT)
	assert.Equal(t, 4, env.PIPELINE_MAX_CONCURRENT)
	assert.Equal(t, 10*time.Minute, env.PIPELINE_STALE_AFTER)
	assert.Equal(t, 2*time.Second, env.STATUS_CACHE_TTL)
	assert.Equal(t, 1.0, env.COMPLETION_RPS)
	assert.True(t, env.CRON_ENABLED)
	assert.Equal(t, "study-textbook:", env.REDIS_NAMESPACE)
}

func TestGetOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PIPELINE_MAX_CONCURRENT", "8")
	t.Setenv("CHAPTER_DELAY", "500ms")
	t.Setenv("CRON_ENABLED", "false")
	t.Setenv("COMPLETION_BURST", "-1")

	env, err := Get()
	require.NoError(t, err)
	assert.Equal(t, 9090, env.PORT)
	assert.Equal(t, 8, env.PIPELINE_MAX_CONCURRENT)
	assert.Equal(t, 500*time.Millisecond, env.CHAPTER_DELAY)
	assert.False(t, env.CRON_ENABLED)
	assert.Equal(t, 3, env.COMPLETION_BURST, "non-positive values fall back")
}

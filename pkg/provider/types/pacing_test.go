package types

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingDelay(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, TypingDelay(""))
	assert.Equal(t, 1000*time.Millisecond, TypingDelay("Hello"))
	assert.Equal(t, 1500*time.Millisecond, TypingDelay(strings.Repeat("a", 20)))
	assert.Equal(t, 5000*time.Millisecond, TypingDelay(strings.Repeat("a", 90)))
	assert.Equal(t, 5000*time.Millisecond, TypingDelay(strings.Repeat("a", 1000)))
	// runes, not bytes
	assert.Equal(t, 1500*time.Millisecond, TypingDelay(strings.Repeat("é", 20)))
}

func TestRecordingDelay(t *testing.T) {
	assert.Equal(t, 1*time.Second, RecordingDelay(0))
	assert.Equal(t, 6*time.Second, RecordingDelay(5))
	assert.Equal(t, 1*time.Second, RecordingDelay(-3))
	assert.Equal(t, 10*time.Second, RecordingDelay(9))
	assert.Equal(t, 10*time.Second, RecordingDelay(60))
	assert.Equal(t, 10*time.Second, RecordingDelay(3600))
	assert.Equal(t, 10*time.Second, RecordingDelay(math.MaxInt))
}

func TestContextSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := ContextSleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDefaultSleeper_TestMode(t *testing.T) {
	t.Setenv("LEADWIRE_TEST_MODE", "true")
	start := time.Now()
	require.NoError(t, DefaultSleeper()(context.Background(), time.Hour))
	assert.Less(t, time.Since(start), time.Second)
}

func TestParseVariant(t *testing.T) {
	v, ok := ParseVariant(" Evolution ")
	assert.True(t, ok)
	assert.Equal(t, VariantEvolution, v)

	v, ok = ParseVariant("uazapi")
	assert.True(t, ok)
	assert.Equal(t, VariantUazapi, v)

	_, ok = ParseVariant("waha")
	assert.False(t, ok)
}

func TestDataURIPrefix(t *testing.T) {
	mime, payload, ok := DataURIPrefix("data:image/png;base64,iVBORw0")
	require.True(t, ok)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "iVBORw0", payload)

	_, _, ok = DataURIPrefix("iVBORw0")
	assert.False(t, ok)
	_, _, ok = DataURIPrefix("data:text/plain,hello")
	assert.False(t, ok)
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://cdn.example.com/a.jpg"))
	assert.False(t, IsURL("data:image/png;base64,AAAA"))
	assert.False(t, IsURL("AAAA"))
}

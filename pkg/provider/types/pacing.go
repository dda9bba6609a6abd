package types

import (
	"context"
	"os"
	"time"
	"unicode/utf8"

	"leadwire/internal/constants"
)

// TypingDelay mimics a human typing text: 500ms plus 50ms per character,
// clamped to [1s, 5s].
func TypingDelay(text string) time.Duration {
	ms := constants.TypingBaseMs + utf8.RuneCountInString(text)*constants.TypingDurationPerChar
	if ms < constants.TypingMinMs {
		ms = constants.TypingMinMs
	}
	if ms > constants.TypingMaxMs {
		ms = constants.TypingMaxMs
	}
	return time.Duration(ms) * time.Millisecond
}

// RecordingDelay mimics recording an audio note of durationSec seconds:
// one second longer than the note, clamped to [1s, 10s].
func RecordingDelay(durationSec int) time.Duration {
	if durationSec < 0 {
		durationSec = 0
	}
	ms := (durationSec + 1) * 1000
	if durationSec > constants.RecordingMaxMs/1000 {
		ms = constants.RecordingMaxMs
	}
	if ms < constants.RecordingMinMs {
		ms = constants.RecordingMinMs
	}
	if ms > constants.RecordingMaxMs {
		ms = constants.RecordingMaxMs
	}
	return time.Duration(ms) * time.Millisecond
}

// MediaDelay is the presence time shown before sending media.
func MediaDelay() time.Duration {
	return constants.MediaPresenceMs * time.Millisecond
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep skips pacing entirely.
func NoSleep(context.Context, time.Duration) error { return nil }

// DefaultSleeper returns NoSleep when LEADWIRE_TEST_MODE is set, so test
// suites never wait on typing simulation.
func DefaultSleeper() Sleeper {
	if os.Getenv("LEADWIRE_TEST_MODE") == "true" {
		return NoSleep
	}
	return ContextSleep
}

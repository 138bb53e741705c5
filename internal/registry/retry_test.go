package registry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, isTransient(nil))
}

func TestIsTransient_ServerError(t *testing.T) {
	assert.True(t, isTransient(&APIError{Status: 502}))
}

func TestIsTransient_TooManyRequests(t *testing.T) {
	assert.True(t, isTransient(&APIError{Status: http.StatusTooManyRequests}))
}

func TestIsTransient_ClientError(t *testing.T) {
	assert.False(t, isTransient(&APIError{Status: 401}))
}

func TestIsTransient_NetworkError(t *testing.T) {
	assert.True(t, isTransient(errors.New("connection reset by peer")))
}

func TestIsTransient_Cancelled(t *testing.T) {
	assert.False(t, isTransient(context.Canceled))
}

func TestRetryConfig_Backoff(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second}

	assert.Equal(t, 100*time.Millisecond, rc.backoff(1))
	assert.Equal(t, 200*time.Millisecond, rc.backoff(2))
	assert.Equal(t, 400*time.Millisecond, rc.backoff(3))
}

func TestRetryConfig_BackoffCapped(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 10, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, 5*time.Second, rc.backoff(10))
}

func TestRetryConfig_DelayHonoursRetryAfter(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}

	assert.Equal(t, 7*time.Second, rc.delay(1, 7*time.Second))
	assert.Equal(t, 2*time.Second, rc.delay(2, time.Second))
	assert.Equal(t, 30*time.Second, rc.delay(1, time.Hour))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}

func TestSleep_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := &blockingClock{recordingClock: newRecordingClock()}
	err := sleep(ctx, blocked, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_Records(t *testing.T) {
	clk := newRecordingClock()
	assert.NoError(t, sleep(context.Background(), clk, time.Second))
	assert.NoError(t, sleep(context.Background(), clk, 0))
	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
}

func TestRecordingClock_Alarm(t *testing.T) {
	clk := newRecordingClock()
	start := clk.Now()

	<-clk.At(start.Add(2 * time.Second))
	<-clk.At(start)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
	assert.Equal(t, start.Add(2*time.Second), clk.Now())
}

package sleeptimer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan int) []int {
	t.Helper()
	var got []int
	timeout := time.After(5 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, v)
		case <-timeout:
			t.Fatalf("countdown did not finish, got %v so far", got)
		}
	}
}

func TestCountdownRunsToZero(t *testing.T) {
	timer := New(WithTick(time.Millisecond, 1))
	assert.False(t, timer.State().Active)

	got := collect(t, timer.Start(context.Background(), 1))

	require.Len(t, got, 61)
	assert.Equal(t, 60, got[0])
	assert.Equal(t, 0, got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]-1, got[i])
	}
	assert.Equal(t, State{Active: false, RemainingSeconds: 0}, timer.State())
}

func TestCountdownStepLargerThanRemainder(t *testing.T) {
	timer := New(WithTick(time.Millisecond, 25))
	got := collect(t, timer.Start(context.Background(), 1))
	assert.Equal(t, []int{60, 35, 10, 0}, got)
}

func TestCancelStopsWithoutExpiry(t *testing.T) {
	timer := New(WithTick(10*time.Millisecond, 1))
	ch := timer.Start(context.Background(), 5)

	require.Equal(t, 300, <-ch)
	assert.True(t, timer.State().Active)

	timer.Cancel()
	for v := range ch {
		assert.NotZero(t, v, "cancelled countdown must not deliver expiry")
	}
	assert.Equal(t, State{}, timer.State())
}

func TestStartReplacesActiveCountdown(t *testing.T) {
	timer := New(WithTick(100*time.Millisecond, 1))
	first := timer.Start(context.Background(), 5)
	require.Equal(t, 300, <-first)

	second := timer.Start(context.Background(), 2)
	for v := range first {
		assert.NotZero(t, v)
	}
	assert.Equal(t, 120, <-second)
	assert.Equal(t, 120, timer.State().RemainingSeconds)
	timer.Cancel()
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := New(WithTick(10*time.Millisecond, 1))
	ch := timer.Start(ctx, 1)
	<-ch
	cancel()
	for v := range ch {
		assert.NotZero(t, v)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		seconds  int
		expected string
	}{
		{0, "00:00"},
		{59, "00:59"},
		{60, "01:00"},
		{754, "12:34"},
		{-3, "00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Format(tt.seconds))
	}
}

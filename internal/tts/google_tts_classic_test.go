package tts

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func unreachableGoogleEngine(t *testing.T) *GoogleClassicTTSEngine {
	t.Helper()
	g, err := newGoogleClassicTTSEngine(
		Config{Speed: 1, Pitch: 1, Volume: 1, CachePath: t.TempDir()},
		option.WithoutAuthentication(),
		option.WithEndpoint("127.0.0.1:1"),
	)
	require.NoError(t, err)
	return g
}

func TestGoogleEngineCloseWhileSynthesizing(t *testing.T) {
	g := unreachableGoogleEngine(t)
	callbacks := make(chan string, 32)
	g.SetListener(ListenerFunc{
		Done:  func(id string) { callbacks <- id },
		Error: func(id string, err error) { callbacks <- id },
	})

	for i := 0; i < 16; i++ {
		require.True(t, g.Speak(fmt.Sprintf("paragraph number %d", i), fmt.Sprintf("u%d", i)))
	}
	g.Close()

	assert.False(t, g.Speak("too late", "late"))
	_, err := g.GetAvailableVoices()
	assert.ErrorIs(t, err, errGoogleClosed)
	assert.NoError(t, g.Close())

	select {
	case id := <-callbacks:
		t.Fatalf("unexpected callback for %s after close", id)
	case <-time.After(300 * time.Millisecond):
	}
}

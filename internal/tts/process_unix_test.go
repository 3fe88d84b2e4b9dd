//go:build unix

package tts

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	id  string
	err error
}

func shellEngine(script string) *commandEngine {
	return newCommandEngine("sh", Config{Speed: 1}, func(Config) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}, func() ([]string, error) { return []string{"sh"}, nil })
}

func listen(e Synthesizer) chan outcome {
	results := make(chan outcome, 4)
	e.SetListener(ListenerFunc{
		Done:  func(id string) { results <- outcome{id: id} },
		Error: func(id string, err error) { results <- outcome{id: id, err: err} },
	})
	return results
}

func await(t *testing.T, results chan outcome) outcome {
	t.Helper()
	select {
	case o := <-results:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no completion")
		return outcome{}
	}
}

func TestCommandEngineCompletesOnExit(t *testing.T) {
	e := shellEngine("cat > /dev/null")
	results := listen(e)

	require.True(t, e.Speak("some text", "u1"))
	o := await(t, results)
	assert.Equal(t, "u1", o.id)
	assert.NoError(t, o.err)
	assert.False(t, e.IsPlaying())
}

func TestCommandEngineReportsFailure(t *testing.T) {
	e := shellEngine("exit 3")
	results := listen(e)

	require.True(t, e.Speak("text", "u1"))
	o := await(t, results)
	assert.Equal(t, "u1", o.id)
	assert.ErrorContains(t, o.err, "sh error")
}

func TestCommandEngineStopSuppressesCallback(t *testing.T) {
	e := shellEngine("sleep 5")
	results := listen(e)

	require.True(t, e.Speak("text", "u1"))
	assert.True(t, e.IsPlaying())
	require.NoError(t, e.Stop())
	assert.False(t, e.IsPlaying())

	select {
	case o := <-results:
		t.Fatalf("unexpected callback for %s", o.id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCommandEngineSettings(t *testing.T) {
	e := shellEngine("true")
	assert.Error(t, e.SetRate(5))
	require.NoError(t, e.SetRate(2))
	require.NoError(t, e.SetVoice("Alex"))
	assert.Equal(t, 2.0, e.config.Speed)
	assert.Equal(t, "Alex", e.config.Voice)

	voices, err := e.GetAvailableVoices()
	require.NoError(t, err)
	assert.Equal(t, []string{"sh"}, voices)
}

func TestCommandEngineMissingBinary(t *testing.T) {
	e := newCommandEngine("missing", Config{}, func(Config) *exec.Cmd {
		return exec.Command("/nonexistent/speech-binary")
	}, nil)
	assert.False(t, e.Speak("text", "u1"))
}

//go:build darwin

package tts

import (
	"fmt"
	"os/exec"
)

// newSayEngine speaks through the macOS built-in 'say' command
func newSayEngine(config Config) (Synthesizer, error) {
	path, err := exec.LookPath("say")
	if err != nil {
		return nil, fmt.Errorf("say not found: %w", err)
	}

	command := func(c Config) *exec.Cmd {
		return exec.Command(path, sayArgs(c)...)
	}
	voices := func() ([]string, error) {
		output, err := exec.Command(path, "-v", "?").Output()
		if err != nil {
			return nil, err
		}
		return parseSayVoices(string(output)), nil
	}
	return newCommandEngine("say", config, command, voices), nil
}

func sayAvailable() bool {
	_, err := exec.LookPath("say")
	return err == nil
}

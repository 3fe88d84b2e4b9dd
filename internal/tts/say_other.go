//go:build !darwin

package tts

import "fmt"

func newSayEngine(config Config) (Synthesizer, error) {
	return nil, fmt.Errorf("say engine only supports macOS")
}

func sayAvailable() bool { return false }

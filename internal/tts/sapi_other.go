//go:build !windows

package tts

import "fmt"

func newSAPIEngine(config Config) (Synthesizer, error) {
	return nil, fmt.Errorf("SAPI engine only supports Windows")
}

func sapiAvailable() bool { return false }

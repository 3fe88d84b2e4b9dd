//go:build windows

package tts

import (
	"fmt"
	"os/exec"
)

// newSAPIEngine speaks through the Windows Speech API via PowerShell
func newSAPIEngine(config Config) (Synthesizer, error) {
	path, err := exec.LookPath("powershell")
	if err != nil {
		return nil, fmt.Errorf("powershell not found: %w", err)
	}

	command := func(c Config) *exec.Cmd {
		return exec.Command(path, "-NoProfile", "-NonInteractive", "-Command", sapiScript(c))
	}
	voices := func() ([]string, error) {
		output, err := exec.Command(path, "-NoProfile", "-NonInteractive", "-Command", sapiVoicesScript).Output()
		if err != nil {
			return nil, err
		}
		return parseLines(string(output)), nil
	}
	return newCommandEngine("SAPI", config, command, voices), nil
}

func sapiAvailable() bool {
	_, err := exec.LookPath("powershell")
	return err == nil
}

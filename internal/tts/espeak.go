package tts

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// newESpeakEngine speaks through eSpeak/eSpeak-NG, one process per utterance
func newESpeakEngine(config Config) (Synthesizer, error) {
	espeakPath, err := findESpeakExecutable()
	if err != nil {
		return nil, fmt.Errorf("eSpeak not found: %w", err)
	}

	// Test the installation
	if err := exec.Command(espeakPath, "--version").Run(); err != nil {
		return nil, fmt.Errorf("eSpeak test failed: %w", err)
	}

	command := func(c Config) *exec.Cmd {
		return exec.Command(espeakPath, buildArgs(c)...)
	}
	voices := func() ([]string, error) {
		output, err := exec.Command(espeakPath, "--voices").Output()
		if err != nil {
			return nil, err
		}
		return parseESpeakVoices(string(output)), nil
	}

	engine := newCommandEngine("eSpeak", config, command, voices)
	engine.strictVoices = true
	return engine, nil
}

func findESpeakExecutable() (string, error) {
	for _, candidate := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("eSpeak executable not found in PATH")
}

// buildArgs turns the current settings into eSpeak command line arguments.
// The text itself arrives on stdin.
func buildArgs(config Config) []string {
	args := []string{}

	if config.Voice != "" && config.Voice != "default" {
		args = append(args, "-v", config.Voice)
	}

	// words per minute, default is 175
	args = append(args, "-s", strconv.Itoa(int(175*config.Speed)))

	// 0-99, default is 50
	pitch := min(max(int(50*config.Pitch), 0), 99)
	args = append(args, "-p", strconv.Itoa(pitch))

	// 0-200, default is 100
	args = append(args, "-a", strconv.Itoa(int(100*config.Volume)))

	return append(args, "--stdin")
}

// parseESpeakVoices reads the VoiceName column of `espeak --voices`.
func parseESpeakVoices(output string) []string {
	voices := make([]string, 0)
	for i, line := range strings.Split(output, "\n") {
		// header: Pty Language Age/Gender VoiceName File Other Languages
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		if fields := strings.Fields(line); len(fields) >= 4 {
			voices = append(voices, fields[3])
		}
	}
	return voices
}

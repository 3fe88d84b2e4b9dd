package tts

import (
	"fmt"
	"math"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// commandEngine speaks through a speech command (espeak, say, PowerShell)
// that reads the utterance from stdin.
type commandEngine struct {
	config Config
	mutex  sync.RWMutex
	runner processRunner

	// command builds the process for one utterance.
	command func(config Config) *exec.Cmd
	// voices lists the installed voices.
	voices func() ([]string, error)
	// strictVoices rejects voices the engine does not list.
	strictVoices bool
}

func newCommandEngine(name string, config Config, command func(Config) *exec.Cmd, voices func() ([]string, error)) *commandEngine {
	return &commandEngine{
		config:  config,
		runner:  processRunner{name: name},
		command: command,
		voices:  voices,
	}
}

func (c *commandEngine) SetListener(l Listener) {
	c.runner.setListener(l)
}

func (c *commandEngine) Speak(text, utteranceID string) bool {
	c.mutex.RLock()
	cmd := c.command(c.config)
	c.mutex.RUnlock()
	cmd.Stdin = strings.NewReader(text)
	return c.runner.start(cmd, utteranceID)
}

func (c *commandEngine) Stop() error {
	c.runner.stop()
	return nil
}

func (c *commandEngine) Close() error {
	return c.Stop()
}

func (c *commandEngine) SetVoice(voice string) error {
	if c.strictVoices && voice != "default" {
		voices, err := c.voices()
		if err != nil {
			return err
		}
		if !slices.Contains(voices, voice) {
			return fmt.Errorf("voice '%s' not available", voice)
		}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.config.Voice = voice
	return nil
}

func (c *commandEngine) SetRate(speed float64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !(speed >= 0.1 && speed <= 3.0) {
		return fmt.Errorf("speed must be between 0.1 and 3.0")
	}

	c.config.Speed = speed
	return nil
}

// SetPitchShift is stored for the next utterance. say and System.Speech
// ignore it.
func (c *commandEngine) SetPitchShift(pitch float64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !(pitch >= 0 && pitch <= 2.0) {
		return fmt.Errorf("pitch must be between 0 and 2.0")
	}

	c.config.Pitch = pitch
	return nil
}

func (c *commandEngine) IsPlaying() bool {
	return c.runner.playing()
}

func (c *commandEngine) GetAvailableVoices() ([]string, error) {
	return c.voices()
}

// sayArgs builds arguments for the macOS say command, which reads text from stdin.
func sayArgs(config Config) []string {
	args := []string{}

	// Set voice if specified
	if config.Voice != "" && config.Voice != "default" {
		args = append(args, "-v", config.Voice)
	}

	// Set rate (words per minute, default is ~175)
	args = append(args, "-r", strconv.Itoa(int(175*config.Speed)))

	return append(args, "-f", "-")
}

// parseSayVoices reads `say -v ?` output: "Name    lang    # sample".
func parseSayVoices(output string) []string {
	voices := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		head, _, _ := strings.Cut(line, "#")
		fields := strings.Fields(head)
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, strings.Join(fields[:len(fields)-1], " "))
	}
	return voices
}

// sapiScript builds the PowerShell program that speaks stdin through System.Speech.
func sapiScript(config Config) string {
	// SAPI rate runs from -10 to 10 with 0 as normal speed
	rate := min(max(int(math.Round((config.Speed-1)*10)), -10), 10)
	volume := min(max(int(config.Volume*100), 0), 100)

	var sb strings.Builder
	sb.WriteString("Add-Type -AssemblyName System.Speech; ")
	sb.WriteString("$synth = New-Object System.Speech.Synthesis.SpeechSynthesizer; ")
	if config.Voice != "" && config.Voice != "default" {
		fmt.Fprintf(&sb, "$synth.SelectVoice('%s'); ", strings.ReplaceAll(config.Voice, "'", "''"))
	}
	fmt.Fprintf(&sb, "$synth.Rate = %d; ", rate)
	fmt.Fprintf(&sb, "$synth.Volume = %d; ", volume)
	sb.WriteString("$synth.Speak([Console]::In.ReadToEnd())")
	return sb.String()
}

const sapiVoicesScript = "Add-Type -AssemblyName System.Speech; " +
	"(New-Object System.Speech.Synthesis.SpeechSynthesizer).GetInstalledVoices() | " +
	"ForEach-Object { $_.VoiceInfo.Name }"

func parseLines(output string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

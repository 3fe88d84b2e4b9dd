// Package app is the readaloud command line application.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"readaloud/internal/cli/scheme/colours"
	"readaloud/internal/config"
	"readaloud/internal/extract"
	"readaloud/internal/narration/host"
	"readaloud/internal/narration/segment"
	"readaloud/internal/narration/session"
	"readaloud/internal/progress"
	"readaloud/internal/tts"

	"github.com/sirupsen/logrus"
)

// EngineFactory builds a synthesizer from its settings.
type EngineFactory func(tts.Config) (tts.Synthesizer, error)

// Narrator main application structure
type Narrator struct {
	cfg       config.Config
	newEngine EngineFactory

	Library *extract.Library
	Runtime *host.Runtime
	store   *progress.Store

	ctx    context.Context
	Cancel context.CancelFunc

	in  io.Reader
	out io.Writer
	log *logrus.Entry
}

// Option configures a Narrator.
type Option func(*Narrator)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(n *Narrator) {
		n.in = in
		n.out = out
	}
}

// WithEngineFactory replaces tts.NewEngine.
func WithEngineFactory(f EngineFactory) Option {
	return func(n *Narrator) {
		n.newEngine = f
	}
}

func New(opts ...Option) *Narrator {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Narrator{
		newEngine: tts.NewEngine,
		ctx:       ctx,
		Cancel:    cancel,
		in:        os.Stdin,
		out:       os.Stdout,
		log:       logrus.WithField("component", "app"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Setup wires the extraction library, the narration runtime and the
// progress store from cfg. It must run before any command.
func (n *Narrator) Setup(cfg config.Config) error {
	n.cfg = cfg

	if lines := cfg.Narration.TextLinesPerPage; lines > 0 && lines != extract.DefaultLinesPerPage {
		extract.Register(&extract.TextFormat{LinesPerPage: lines})
		extract.Register(&extract.MarkdownFormat{LinesPerPage: lines})
	}
	n.Library = extract.NewLibrary(logrus.WithField("component", "extract"))

	store, err := progress.NewStore(cfg.Progress.Path)
	if err != nil {
		n.log.WithError(err).Warn("Reading progress will not be saved")
	}
	n.store = store

	ttsConfig := cfg.TTSConfig()
	n.Runtime = host.NewRuntime(host.Options{
		Extractor: n.Library,
		Session: session.Options{
			NewSynthesizer: func() (tts.Synthesizer, error) { return n.newEngine(ttsConfig) },
			Segmenter:      segment.New(cfg.Policy()),
			SkipEmptyPages: cfg.Narration.SkipEmptyPages,
			Speed:          cfg.TTS.Speed,
			Pitch:          cfg.TTS.Pitch,
			Voice:          cfg.TTS.Voice,
		},
		Timer:  cfg.TimerOptions(),
		Logger: logrus.WithField("component", "host"),
	})
	return nil
}

// Shutdown stops narration for good and releases open documents.
func (n *Narrator) Shutdown() {
	n.Cancel()
	if n.Runtime != nil {
		n.Runtime.Stop()
	}
	if n.Library != nil {
		if err := n.Library.Close(); err != nil {
			n.log.WithError(err).Warn("Failed to close documents")
		}
	}
}

func (n *Narrator) ShowWelcome() {
	fmt.Fprintln(n.out)
	colours.Title.Fprintln(n.out, "🔊 Welcome to readaloud! 🔊")
	fmt.Fprintln(n.out)
	colours.Info.Fprintln(n.out, "📚 Available commands:")
	fmt.Fprintln(n.out, "  • readaloud read <file>    - Narrate a document aloud")
	fmt.Fprintln(n.out, "  • readaloud info <file>    - Show document details")
	fmt.Fprintln(n.out, "  • readaloud outline <file> - List the paragraphs of every page")
	fmt.Fprintln(n.out, "  • readaloud voices         - List synthesizer voices")
	fmt.Fprintln(n.out, "  • readaloud progress       - Show saved reading positions")
	fmt.Fprintln(n.out)
	colours.Prompt.Fprintf(n.out, "✨ Supported formats: %v ✨\n", extract.SupportedFormats())
}

// engine builds a one-off synthesizer for the listing commands.
func (n *Narrator) engine() (tts.Synthesizer, error) {
	engine, err := n.newEngine(n.cfg.TTSConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create tts engine: %w", err)
	}
	return engine, nil
}

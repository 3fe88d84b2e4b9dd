package tts

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/texttospeech/apiv1"
	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
)

const googleDefaultVoice = "en-GB-Chirp3-HD-Umbriel"

var errGoogleClosed = errors.New("google tts engine closed")

type GoogleClassicTTSEngine struct {
	client       *texttospeech.Client
	ctx          context.Context
	cancel       context.CancelFunc
	voice        string
	speed        float64
	pitch        float64
	volume       float64
	listener     Listener
	gen          uint64
	sampleRate   beep.SampleRate
	speakerReady bool
	streamers    []beep.StreamSeekCloser
	mu           sync.Mutex
	cacheRootDir string
}

// voiceSettings is the snapshot of settings an utterance is rendered with
type voiceSettings struct {
	voice  string
	speed  float64
	pitch  float64
	volume float64
}

func newGoogleClassicTTSEngine(config Config, opts ...option.ClientOption) (*GoogleClassicTTSEngine, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	cacheDir := config.CachePath
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "readaloud-tts")
	}
	cacheDir = filepath.Join(cacheDir, "google_classic")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	voice := config.Voice
	if voice == "" || voice == "default" {
		voice = googleDefaultVoice
	}

	return &GoogleClassicTTSEngine{
		client:       client,
		ctx:          ctx,
		cancel:       cancel,
		voice:        voice,
		speed:        config.Speed,
		pitch:        config.Pitch,
		volume:       config.Volume,
		cacheRootDir: cacheDir,
	}, nil
}

func (g *GoogleClassicTTSEngine) SetListener(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listener = l
}

func (g *GoogleClassicTTSEngine) Speak(text, utteranceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	client := g.client
	if client == nil {
		return false
	}

	g.stopPlaybackLocked()
	gen := g.gen
	settings := voiceSettings{voice: g.voice, speed: g.speed, pitch: g.pitch, volume: g.volume}

	// Synthesis is a network round trip, so it happens off the caller's goroutine.
	// After a Close the captured client fails the call and gen suppresses the callback.
	go g.render(client, gen, text, utteranceID, settings)
	return true
}

func (g *GoogleClassicTTSEngine) render(client *texttospeech.Client, gen uint64, text, utteranceID string, settings voiceSettings) {
	files, err := g.synthesize(client, text, settings)
	if err != nil {
		g.fail(gen, utteranceID, err)
		return
	}

	var streamers []beep.StreamSeekCloser
	var format beep.Format
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			closeAll(streamers)
			g.fail(gen, utteranceID, fmt.Errorf("failed to open cached MP3 %s: %w", path, err))
			return
		}
		streamer, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			closeAll(streamers)
			g.fail(gen, utteranceID, fmt.Errorf("failed to decode MP3 %s: %w", path, err))
			return
		}
		streamers = append(streamers, streamer)
		format = f
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gen != gen {
		closeAll(streamers)
		return
	}

	if !g.speakerReady {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			closeAll(streamers)
			go g.fail(gen, utteranceID, fmt.Errorf("failed to init speaker: %w", err))
			return
		}
		g.sampleRate = format.SampleRate
		g.speakerReady = true
	}

	seq := make([]beep.Streamer, 0, len(streamers)+1)
	for _, s := range streamers {
		var st beep.Streamer = s
		if format.SampleRate != g.sampleRate {
			st = beep.Resample(4, format.SampleRate, g.sampleRate, s)
		}
		seq = append(seq, st)
	}
	// The callback runs on the speaker goroutine, which holds the speaker lock
	seq = append(seq, beep.Callback(func() {
		go g.finish(gen, utteranceID)
	}))

	g.streamers = streamers
	speaker.Play(beep.Seq(seq...))
}

// synthesize returns the cached mp3 chunk files for text, generating missing ones
func (g *GoogleClassicTTSEngine) synthesize(client *texttospeech.Client, text string, settings voiceSettings) ([]string, error) {
	// Create a unique identifier for this specific text + voice combination
	key := fmt.Sprintf("%s|%s|%.2f|%.2f|%.2f", text, settings.voice, settings.speed, settings.pitch, settings.volume)
	contentHash := md5Sum(key)[:12]

	chunks := splitIntoChunks(text, 4800) // a little under 5000 to be safe
	files := make([]string, 0, len(chunks))

	for chunkIndex, chunk := range chunks {
		chunkPath := filepath.Join(g.cacheRootDir, fmt.Sprintf("%s_%d.mp3", contentHash, chunkIndex))
		files = append(files, chunkPath)

		if _, err := os.Stat(chunkPath); err == nil {
			continue
		}

		resp, err := client.SynthesizeSpeech(g.ctx, synthesisRequest(chunk, settings))
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize chunk %d: %w", chunkIndex, err)
		}

		if err := os.WriteFile(chunkPath, resp.AudioContent, 0644); err != nil {
			return nil, fmt.Errorf("failed to write MP3 chunk %d to %s: %w", chunkIndex, chunkPath, err)
		}

		logrus.WithFields(logrus.Fields{
			"chunk": chunkIndex + 1,
			"of":    len(chunks),
			"file":  chunkPath,
		}).Debug("Cached audio chunk")
	}

	return files, nil
}

func synthesisRequest(text string, settings voiceSettings) *texttospeechpb.SynthesizeSpeechRequest {
	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}

	// Chirp voices often reject speakingRate/pitch, so leave them at defaults
	if !strings.Contains(strings.ToLower(settings.voice), "chirp") {
		audioCfg.SpeakingRate = min(max(settings.speed, 0.25), 4.0)
		audioCfg.Pitch = pitchSemitones(settings.pitch)
		audioCfg.VolumeGainDb = volumeGainDb(settings.volume)
	}

	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: languageCode(settings.voice),
			Name:         settings.voice,
		},
		AudioConfig: audioCfg,
	}
}

// languageCode extracts "en-GB" from a voice name such as "en-GB-Chirp3-HD-Umbriel"
func languageCode(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 2 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

// pitchSemitones maps a pitch multiplier (1.0 = natural) onto the API's semitone range
func pitchSemitones(pitch float64) float64 {
	return min(max((pitch-1)*10, -20), 20)
}

func volumeGainDb(volume float64) float64 {
	if volume <= 0 {
		return -96
	}
	return min(max(20*math.Log10(volume), -96), 16)
}

func (g *GoogleClassicTTSEngine) finish(gen uint64, utteranceID string) {
	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		return
	}
	closeAll(g.streamers)
	g.streamers = nil
	l := g.listener
	g.mu.Unlock()

	if l != nil {
		l.UtteranceDone(utteranceID)
	}
}

func (g *GoogleClassicTTSEngine) fail(gen uint64, utteranceID string, err error) {
	g.mu.Lock()
	current := g.gen == gen
	l := g.listener
	g.mu.Unlock()

	logrus.WithError(err).WithField("utterance", utteranceID).Warn("Google TTS utterance failed")
	if current && l != nil {
		l.UtteranceError(utteranceID, err)
	}
}

func (g *GoogleClassicTTSEngine) stopPlaybackLocked() {
	g.gen++
	if g.speakerReady {
		speaker.Clear()
	}
	closeAll(g.streamers)
	g.streamers = nil
}

func closeAll(streamers []beep.StreamSeekCloser) {
	for _, s := range streamers {
		s.Close()
	}
}

func (g *GoogleClassicTTSEngine) SetVoice(voice string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voice = voice
	return nil
}

func (g *GoogleClassicTTSEngine) SetRate(speed float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speed = speed
	return nil
}

func (g *GoogleClassicTTSEngine) SetPitchShift(pitch float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pitch = pitch
	return nil
}

func (g *GoogleClassicTTSEngine) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopPlaybackLocked()
	return nil
}

func (g *GoogleClassicTTSEngine) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopPlaybackLocked()
	g.cancel()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func (g *GoogleClassicTTSEngine) GetAvailableVoices() ([]string, error) {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return nil, errGoogleClosed
	}

	resp, err := client.ListVoices(g.ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, err
	}
	voices := []string{}
	for _, v := range resp.Voices {
		voices = append(voices, v.Name)
	}
	return voices, nil
}

// GetCacheStats returns cache statistics for the current engine
func (g *GoogleClassicTTSEngine) GetCacheStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalFiles int64
	var totalSize int64

	// Walk through the entire cache directory tree
	err := filepath.Walk(g.cacheRootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Continue walking despite errors
		}

		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ".mp3") {
			totalFiles++
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		return stats, err
	}

	stats["cache_directory"] = g.cacheRootDir
	stats["cached_files"] = totalFiles
	stats["total_size_mb"] = float64(totalSize) / (1024 * 1024)

	return stats, nil
}

// ClearCache removes all cached files
func (g *GoogleClassicTTSEngine) ClearCache() error {
	return os.RemoveAll(g.cacheRootDir)
}

func md5Sum(s string) string {
	h := md5.New()
	io.WriteString(h, s)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func splitIntoChunks(text string, limit int) []string {
	var chunks []string
	runes := []rune(text) // safe for UTF-8
	for i := 0; i < len(runes); i += limit {
		end := i + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

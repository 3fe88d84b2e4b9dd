// Package progress remembers where narration of each document left off.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"readaloud/internal/domain/document"
	"readaloud/internal/narration/host"
	"readaloud/internal/narration/session"

	"github.com/sirupsen/logrus"
)

const fileName = "progress.json"

// storedProgress is the on-disk layout.
type storedProgress struct {
	Documents   map[string]document.Progress `json:"documents"`
	LastUpdated time.Time                    `json:"last_updated"`
}

// Store is a JSON file of reading positions keyed by document id.
type Store struct {
	path string
	mu   sync.RWMutex
	data map[string]document.Progress
	log  *logrus.Entry
	now  func() time.Time
}

// DefaultDir returns XDG_STATE_HOME/readaloud or ~/.local/state/readaloud.
func DefaultDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "readaloud")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "readaloud")
}

// NewStore opens the store in dir, creating it if needed. An unreadable file
// is logged and replaced on the next save.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}

	s := &Store{
		path: filepath.Join(dir, fileName),
		data: make(map[string]document.Progress),
		log:  logrus.WithField("component", "progress"),
		now:  time.Now,
	}
	if err := s.load(); err != nil {
		s.log.WithError(err).Warn("Ignoring unreadable progress file")
		s.data = make(map[string]document.Progress)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the saved progress for documentID.
func (s *Store) Get(documentID string) (document.Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[documentID]
	return p, ok
}

// Save records p, stamping it with the current time.
func (s *Store) Save(p document.Progress) error {
	if p.DocumentID == "" {
		return fmt.Errorf("progress without document id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = s.now()
	s.data[p.DocumentID] = p
	return s.save()
}

// Clear forgets documentID.
func (s *Store) Clear(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[documentID]; !ok {
		return nil
	}
	delete(s.data, documentID)
	s.log.WithField("document", documentID).Info("Cleared reading progress")
	return s.save()
}

// All returns every entry, most recently updated first.
func (s *Store) All() []document.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.Progress, 0, len(s.data))
	for _, p := range s.data {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Info describes the backing file.
func (s *Store) Info() map[string]interface{} {
	info := map[string]interface{}{"file": s.path}
	if stat, err := os.Stat(s.path); err == nil {
		info["exists"] = true
		info["size"] = stat.Size()
		info["last_modified"] = stat.ModTime()
	} else {
		info["exists"] = false
	}
	s.mu.RLock()
	info["documents"] = len(s.data)
	s.mu.RUnlock()
	return info
}

func (s *Store) load() error {
	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open progress file: %w", err)
	}
	defer file.Close()

	var stored storedProgress
	if err := json.NewDecoder(file).Decode(&stored); err != nil {
		return fmt.Errorf("failed to decode progress file: %w", err)
	}
	if stored.Documents != nil {
		s.data = stored.Documents
	}

	s.log.WithFields(logrus.Fields{
		"documents":    len(s.data),
		"last_updated": stored.LastUpdated.Format(time.RFC3339),
	}).Debug("Loaded reading progress")
	return nil
}

// save writes through a temporary file so a crash never leaves half a file.
func (s *Store) save() error {
	stored := storedProgress{Documents: s.data, LastUpdated: s.now()}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), fileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create progress file: %w", err)
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(stored); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}

// Track saves the position whenever a snapshot reports a newly spoken
// paragraph. It returns when ctx is done or updates is closed.
func (s *Store) Track(ctx context.Context, updates <-chan host.Snapshot) {
	var last document.Position
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			st := snap.Narration
			if st.Status != session.Speaking || st.Paragraph == nil || st.Position == last {
				continue
			}
			last = st.Position
			err := s.Save(document.Progress{Position: st.Position, Speed: st.Speed, Pitch: st.Pitch})
			if err != nil {
				s.log.WithError(err).Warn("Failed to save reading progress")
			}
		}
	}
}

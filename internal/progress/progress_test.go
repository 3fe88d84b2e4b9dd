package progress

import (
	"context"
	"os"
	"testing"
	"time"

	"readaloud/internal/domain/document"
	"readaloud/internal/domain/page"
	"readaloud/internal/narration/host"
	"readaloud/internal/narration/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func position(doc string, pg, para int) document.Position {
	return document.Position{DocumentID: doc, PageIndex: pg, ParagraphIndex: para}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	_, ok := s.Get("book")
	assert.False(t, ok)

	require.NoError(t, s.Save(document.Progress{Position: position("book", 3, 7), Speed: 1.25, Pitch: 1}))

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	p, ok := reopened.Get("book")
	require.True(t, ok)
	assert.Equal(t, position("book", 3, 7), p.Position)
	assert.Equal(t, 1.25, p.Speed)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestSaveRequiresDocument(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Save(document.Progress{}))
}

func TestClear(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(document.Progress{Position: position("a", 1, 1)}))

	require.NoError(t, s.Clear("a"))
	require.NoError(t, s.Clear("a"))
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestAllNewestFirst(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	require.NoError(t, s.Save(document.Progress{Position: position("old", 0, 0)}))
	require.NoError(t, s.Save(document.Progress{Position: position("new", 0, 0)}))

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].DocumentID)
	assert.Equal(t, "old", all[1].DocumentID)
}

func TestCorruptFileIsIgnored(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0644))

	s, err = NewStore(dir)
	require.NoError(t, err)
	assert.Empty(t, s.All())
	require.NoError(t, s.Save(document.Progress{Position: position("x", 0, 0)}))
	assert.Equal(t, true, s.Info()["exists"])
}

func TestDefaultDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	assert.Equal(t, "/tmp/state/readaloud", DefaultDir())
}

func TestTrackSavesSpokenParagraphs(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	speaking := func(pg, para int) host.Snapshot {
		return host.Snapshot{Narration: session.State{
			Status:    session.Speaking,
			Position:  position("book", pg, para),
			Paragraph: &page.Paragraph{ID: "p", Text: "text", PageIndex: pg},
			Speed:     1.5,
			Pitch:     1,
		}}
	}

	updates := make(chan host.Snapshot, 8)
	updates <- speaking(0, 0)
	updates <- host.Snapshot{Narration: session.State{Status: session.LoadingPage, Position: position("book", 1, 0)}}
	updates <- speaking(1, 2)
	updates <- host.Snapshot{Narration: session.State{Status: session.Paused, Position: position("book", 1, 2)}}
	updates <- host.Snapshot{Narration: session.State{Status: session.Idle}}
	close(updates)

	s.Track(context.Background(), updates)

	p, ok := s.Get("book")
	require.True(t, ok)
	assert.Equal(t, position("book", 1, 2), p.Position)
	assert.Equal(t, 1.5, p.Speed)
}

func TestTrackStopsOnCancel(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.Track(ctx, make(chan host.Snapshot))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Track did not return")
	}
}

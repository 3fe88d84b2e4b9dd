package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"readaloud/internal/cli/scheme/colours"
	"readaloud/internal/domain/document"
	"readaloud/internal/extract"
	"readaloud/internal/narration/host"
	"readaloud/internal/narration/session"
	"readaloud/internal/narration/sleeptimer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const speedStep = 0.25

// controller is the part of host.Client the interactive views drive.
type controller interface {
	Dispatch(ctx context.Context, action string) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Stop(ctx context.Context) error
	SetSpeed(ctx context.Context, speed float64) error
	SetVoice(ctx context.Context, voice string) error
	StartSleepTimer(ctx context.Context, minutes int) error
	CancelSleepTimer(ctx context.Context) error
}

// ReadDocument narrates the document named by args[0].
func (n *Narrator) ReadDocument(cmd *cobra.Command, args []string) error {
	pageFlag, _ := cmd.Flags().GetInt("page")
	paragraph, _ := cmd.Flags().GetInt("paragraph")
	voice, _ := cmd.Flags().GetString("voice")
	speed, _ := cmd.Flags().GetFloat64("speed")
	sleepMinutes, _ := cmd.Flags().GetInt("sleep")
	useTUI, _ := cmd.Flags().GetBool("tui")
	noResume, _ := cmd.Flags().GetBool("no-resume")

	ctx := n.ctx
	id := extract.ID(args[0])
	doc, err := n.Library.Open(ctx, id)
	if err != nil {
		return err
	}
	n.showDocument(doc)

	start := document.Position{DocumentID: id, PageIndex: max(pageFlag-1, 0), ParagraphIndex: max(paragraph-1, 0)}
	var saved document.Progress
	resumed := false
	if !cmd.Flags().Changed("page") && !noResume && n.cfg.Narration.Resume && n.store != nil {
		saved, resumed = n.store.Get(id)
		if resumed {
			start = saved.Position
			colours.Info.Fprintf(n.out, "🔖 Resuming at page %d, paragraph %d\n", start.PageIndex+1, start.ParagraphIndex+1)
		}
	}

	client := host.NewClient(n.Runtime, n.cfg.ClientOptions())
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		return err
	}

	if cmd.Flags().Changed("voice") {
		if err := client.SetVoice(ctx, voice); err != nil {
			return err
		}
	}
	switch {
	case cmd.Flags().Changed("speed"):
		err = client.SetSpeed(ctx, speed)
	case resumed && saved.Speed > 0:
		err = client.SetSpeed(ctx, saved.Speed)
	}
	if err != nil {
		return err
	}

	updates := client.Subscribe()
	defer updates.Cancel()
	if n.store != nil {
		tracked := client.Subscribe()
		defer tracked.Cancel()
		go n.store.Track(ctx, tracked.C)
	}

	if err := client.Start(ctx, id, start.PageIndex, start.ParagraphIndex); err != nil {
		return err
	}
	if sleepMinutes > 0 {
		if err := client.StartSleepTimer(ctx, sleepMinutes); err != nil {
			return err
		}
	}

	if useTUI {
		err = n.runTUI(ctx, client, doc, updates.C)
	} else {
		fmt.Fprintln(n.out)
		colours.Success.Fprintln(n.out, "🎵 Starting narration... 🎵")
		fmt.Fprintln(n.out, "💡 Press Ctrl+C to stop anytime")
		err = n.transport(ctx, client, updates.C)
	}

	if stopErr := client.Stop(context.Background()); stopErr != nil && !errors.Is(stopErr, host.ErrHostClosed) {
		n.log.WithError(stopErr).Debug("Failed to stop narration on exit")
	}
	return err
}

func (n *Narrator) showDocument(doc document.Document) {
	fmt.Fprintln(n.out)
	colours.Title.Fprintf(n.out, "📖 %s\n", doc.Title)
	if doc.Author != "" {
		colours.Author.Fprintf(n.out, "✍️  by %s\n", doc.Author)
	}
	fmt.Fprintf(n.out, "📄 %s | %d pages\n", doc.Format, doc.PageCount)
}

// transport runs the line-based control loop until narration ends, the user
// stops or quits, or ctx is cancelled.
func (n *Narrator) transport(ctx context.Context, c controller, updates <-chan host.Snapshot) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go readLines(ctx, n.in, lines)

	pr := &printer{out: n.out}
	sleepMinutes := n.cfg.Sleep.DefaultMinutes
	var current host.Snapshot

	n.showControls()
	for {
		select {
		case <-ctx.Done():
			return nil

		case snap, ok := <-updates:
			if !ok {
				return host.ErrHostClosed
			}
			current = snap
			if done, err := pr.show(snap); done {
				return err
			}

		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep narrating until the document ends.
				lines = nil
				continue
			}
			quit, err := n.handleKey(ctx, c, current, line, sleepMinutes)
			if err != nil {
				colours.Error.Fprintf(n.out, "❌ %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (n *Narrator) showControls() {
	fmt.Fprint(n.out, "\n⏯️  p pause/resume · n next · b back · +/- speed · t [min] sleep · c cancel sleep · v <voice> · s stop · q quit\n")
}

// handleKey applies one line of input. It reports whether the loop should end.
func (n *Narrator) handleKey(ctx context.Context, c controller, current host.Snapshot, line string, sleepMinutes int) (bool, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "p", "pause", "play":
		return false, c.Dispatch(ctx, host.ActionToggle)
	case "n", "next":
		return false, c.Next(ctx)
	case "b", "back", "previous":
		return false, c.Previous(ctx)
	case "+":
		return false, c.SetSpeed(ctx, n.speed(current)+speedStep)
	case "-":
		return false, c.SetSpeed(ctx, n.speed(current)-speedStep)
	case "t", "timer":
		minutes := sleepMinutes
		if len(fields) > 1 {
			m, err := strconv.Atoi(fields[1])
			if err != nil || m <= 0 {
				return false, fmt.Errorf("invalid sleep timer minutes %q", fields[1])
			}
			minutes = m
		}
		colours.Info.Fprintf(n.out, "😴 Sleep timer set for %d minutes\n", minutes)
		return false, c.StartSleepTimer(ctx, minutes)
	case "c", "cancel":
		colours.Info.Fprintln(n.out, "⏰ Sleep timer cancelled")
		return false, c.CancelSleepTimer(ctx)
	case "v", "voice":
		if len(fields) < 2 {
			return false, errors.New("usage: v <voice>")
		}
		// voice names keep their case
		voice := strings.Join(strings.Fields(line)[1:], " ")
		return false, c.SetVoice(ctx, voice)
	case "s", "stop":
		colours.Warning.Fprintln(n.out, "⏹️  Stopped")
		return true, c.Stop(ctx)
	case "q", "quit":
		return true, nil
	default:
		n.showControls()
		return false, nil
	}
}

func (n *Narrator) speed(current host.Snapshot) float64 {
	if current.Narration.Speed > 0 {
		return current.Narration.Speed
	}
	return n.cfg.TTS.Speed
}

func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logrus.WithError(err).Debug("Stopped reading input")
	}
}

// printer renders snapshots as lines of terminal output, printing only what
// changed since the previous snapshot.
type printer struct {
	out       io.Writer
	started   bool
	paragraph string
	status    session.Status
	sleep     sleeptimer.State
}

// show prints snap and reports whether narration is over, with the failure
// that ended it, if any.
func (p *printer) show(snap host.Snapshot) (bool, error) {
	st := snap.Narration
	defer func() {
		p.status = st.Status
		p.sleep = snap.Sleep
	}()

	p.showSleep(snap.Sleep)
	if st.Reason != "" && st.Status != session.Failed {
		colours.Warning.Fprintf(p.out, "⚠️  %s: %s\n", st.Reason, st.Error)
	}

	switch st.Status {
	case session.Idle:
		if p.started {
			colours.Warning.Fprintln(p.out, "⏹️  Narration stopped")
			return true, nil
		}
	case session.LoadingPage:
		p.started = true
		if p.status != session.LoadingPage {
			colours.Info.Fprintf(p.out, "⏳ Loading page %d...\n", st.Position.PageIndex+1)
		}
	case session.Speaking:
		p.started = true
		if st.Paragraph != nil && st.Paragraph.ID != p.paragraph {
			p.paragraph = st.Paragraph.ID
			fmt.Fprintln(p.out)
			colours.Position.Fprintf(p.out, "[page %d/%d · ¶ %d/%d · %.2fx] ",
				st.Position.PageIndex+1, st.PageCount, st.Position.ParagraphIndex+1, st.ParagraphCount, st.Speed)
			colours.Paragraph.Fprintln(p.out, st.Paragraph.Text)
		} else if p.status == session.Paused {
			colours.Success.Fprintln(p.out, "▶️  Resumed")
		}
	case session.Paused:
		if p.status != session.Paused {
			colours.Warning.Fprintln(p.out, "⏸️  Paused")
		}
	case session.Finished:
		fmt.Fprintln(p.out)
		colours.Success.Fprintln(p.out, "✅ Finished! 🌟")
		return true, nil
	case session.Failed:
		return true, fmt.Errorf("narration failed: %s: %s", st.Reason, st.Error)
	}
	return false, nil
}

func (p *printer) showSleep(s sleeptimer.State) {
	switch {
	case s.Active && !p.sleep.Active:
		colours.Sleep.Fprintf(p.out, "😴 Sleeping in %s\n", sleeptimer.Format(s.RemainingSeconds))
	case s.Active && s.RemainingSeconds%60 == 0 && s.RemainingSeconds != p.sleep.RemainingSeconds:
		colours.Sleep.Fprintf(p.out, "😴 %s left\n", sleeptimer.Format(s.RemainingSeconds))
	case !s.Active && p.sleep.Active:
		colours.Sleep.Fprintln(p.out, "⏰ Sleep timer off")
	}
}

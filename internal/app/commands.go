package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"readaloud/internal/cli/scheme/colours"
	"readaloud/internal/domain/page"
	"readaloud/internal/extract"
	"readaloud/internal/narration/segment"
	"readaloud/internal/tts"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const previewLength = 60

// AddCommands registers every readaloud subcommand on root.
func (n *Narrator) AddCommands(root *cobra.Command) {
	readCmd := &cobra.Command{
		Use:   "read <file>",
		Short: "📖 Narrate a document",
		Long:  "Read a document aloud, paragraph by paragraph, resuming where you left off",
		Args:  cobra.ExactArgs(1),
		RunE:  n.ReadDocument,
	}
	readCmd.Flags().IntP("page", "p", 1, "Page to start at (1-based); disables resume")
	readCmd.Flags().Int("paragraph", 1, "Paragraph to start at on the first page (1-based)")
	readCmd.Flags().StringP("voice", "v", "", "Optional voice to use for reading. See voices for options")
	readCmd.Flags().Float64P("speed", "s", 1.0, "Speech rate multiplier")
	readCmd.Flags().Int("sleep", 0, "Stop narration after this many minutes")
	readCmd.Flags().Bool("tui", false, "Full-screen view")
	readCmd.Flags().Bool("no-resume", false, "Ignore the saved reading position")

	segmentCmd := &cobra.Command{
		Use:   "segment <file>",
		Short: "✂️ Show the paragraphs of one page",
		Long:  "Extract one page and print the paragraphs narration would speak",
		Args:  cobra.ExactArgs(1),
		RunE:  n.SegmentPage,
	}
	segmentCmd.Flags().IntP("page", "p", 1, "Page to segment (1-based)")

	outlineCmd := &cobra.Command{
		Use:   "outline <file>",
		Short: "🗂️ Outline every page",
		Long:  "Segment every page of a document concurrently and list paragraph counts",
		Args:  cobra.ExactArgs(1),
		RunE:  n.Outline,
	}
	outlineCmd.Flags().IntP("jobs", "j", runtime.NumCPU(), "Pages to extract at once")

	infoCmd := &cobra.Command{
		Use:   "info <file>",
		Short: "ℹ️ Show document details",
		Args:  cobra.ExactArgs(1),
		RunE:  n.ShowInfo,
	}

	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "🎤 List synthesizer voices",
		RunE:  n.ListVoices,
	}

	enginesCmd := &cobra.Command{
		Use:   "engines",
		Short: "⚙️ List available TTS engines",
		Run:   n.ListEngines,
	}

	formatsCmd := &cobra.Command{
		Use:   "formats",
		Short: "📄 List supported document formats",
		Run:   n.ListFormats,
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "📊 Show speech cache status",
		RunE:  n.ShowCacheStatus,
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "🧹 Clear the speech cache",
		RunE:  n.ClearCache,
	})

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "🔖 Show saved reading positions",
		Run:   n.ListProgress,
	}
	progressCmd.AddCommand(&cobra.Command{
		Use:   "clear <file>",
		Short: "🧹 Forget the saved position of a document",
		Args:  cobra.ExactArgs(1),
		RunE:  n.ClearProgress,
	})

	root.AddCommand(readCmd, segmentCmd, outlineCmd, infoCmd, voicesCmd, enginesCmd, formatsCmd, cacheCmd, progressCmd)
}

// SegmentPage prints the paragraphs of one page with their bounding boxes.
func (n *Narrator) SegmentPage(cmd *cobra.Command, args []string) error {
	pageNumber, _ := cmd.Flags().GetInt("page")
	id := extract.ID(args[0])

	runs, err := n.Library.ExtractRuns(n.ctx, id, pageNumber-1)
	if err != nil {
		return err
	}
	paragraphs := segment.New(n.cfg.Policy()).Segment(runs, pageNumber-1)

	fmt.Fprintln(n.out)
	colours.Title.Fprintf(n.out, "✂️  Page %d: %d runs, %d paragraphs\n", pageNumber, len(runs), len(paragraphs))
	for i, p := range paragraphs {
		fmt.Fprintln(n.out)
		colours.Info.Fprintf(n.out, "  ¶ %d", i+1)
		if p.BoundingBox != nil {
			fmt.Fprintf(n.out, "  %s", formatBox(*p.BoundingBox))
		}
		fmt.Fprintln(n.out)
		fmt.Fprintf(n.out, "  %s\n", p.Text)
	}
	if len(paragraphs) == 0 {
		colours.Warning.Fprintln(n.out, "🔍 Nothing to read on this page.")
	}
	return nil
}

type pageOutline struct {
	paragraphs int
	preview    string
}

// Outline segments every page, a few pages at a time.
func (n *Narrator) Outline(cmd *cobra.Command, args []string) error {
	jobs, _ := cmd.Flags().GetInt("jobs")
	id := extract.ID(args[0])

	doc, err := n.Library.Open(n.ctx, id)
	if err != nil {
		return err
	}
	segmenter := segment.New(n.cfg.Policy())

	pages := make([]pageOutline, doc.PageCount)
	g, ctx := errgroup.WithContext(n.ctx)
	g.SetLimit(max(jobs, 1))
	for i := range pages {
		g.Go(func() error {
			runs, err := n.Library.ExtractRuns(ctx, id, i)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			paragraphs := segmenter.Segment(runs, i)
			pages[i].paragraphs = len(paragraphs)
			if len(paragraphs) > 0 {
				pages[i].preview = preview(paragraphs[0].Text)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	n.showDocument(doc)
	fmt.Fprintln(n.out)
	total := 0
	for i, p := range pages {
		total += p.paragraphs
		colours.Info.Fprintf(n.out, "  %4d. ", i+1)
		fmt.Fprintf(n.out, "%3d ¶  %s\n", p.paragraphs, p.preview)
	}
	colours.Success.Fprintf(n.out, "✨ %d paragraphs across %d pages\n", total, len(pages))
	return nil
}

// ShowInfo prints document metadata and the saved reading position.
func (n *Narrator) ShowInfo(cmd *cobra.Command, args []string) error {
	id := extract.ID(args[0])
	doc, err := n.Library.Open(n.ctx, id)
	if err != nil {
		return err
	}
	n.showDocument(doc)
	colours.Info.Fprintf(n.out, "🆔 %s\n", doc.ID)

	if n.store == nil {
		return nil
	}
	if p, ok := n.store.Get(id); ok {
		colours.Success.Fprintf(n.out, "🔖 Saved at page %d, paragraph %d (%.2fx) on %s\n",
			p.PageIndex+1, p.ParagraphIndex+1, p.Speed, p.UpdatedAt.Format("2006-01-02 15:04:05"))
	} else {
		colours.Info.Fprintln(n.out, "🔖 Not started yet")
	}
	return nil
}

func (n *Narrator) ListVoices(cmd *cobra.Command, args []string) error {
	engine, err := n.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	voices, err := engine.GetAvailableVoices()
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}

	fmt.Fprintln(n.out)
	colours.Title.Fprintln(n.out, "🎤 Available voices")
	for _, v := range voices {
		fmt.Fprintf(n.out, "  • %s\n", v)
	}
	colours.Success.Fprintf(n.out, "✨ %d voices\n", len(voices))
	return nil
}

func (n *Narrator) ListEngines(cmd *cobra.Command, args []string) {
	fmt.Fprintln(n.out)
	colours.Title.Fprintln(n.out, "⚙️ Available engines")
	for _, e := range tts.GetAvailableEngines() {
		marker := ""
		if e.String() == n.cfg.TTS.Type {
			marker = " (configured)"
		}
		fmt.Fprintf(n.out, "  • %s%s\n", e, marker)
	}
}

func (n *Narrator) ListFormats(cmd *cobra.Command, args []string) {
	fmt.Fprintln(n.out)
	colours.Title.Fprintln(n.out, "📄 Supported formats")
	for _, f := range extract.SupportedFormats() {
		fmt.Fprintf(n.out, "  • %s\n", f)
	}
}

// ShowCacheStatus displays information about the synthesized speech cache
func (n *Narrator) ShowCacheStatus(cmd *cobra.Command, args []string) error {
	cache, err := n.cacheEngine()
	if cache == nil {
		return err
	}
	defer cache.Close()

	colours.Title.Fprintln(n.out, "📊 Speech Cache Status")
	stats, err := cache.GetCacheStats()
	if err != nil {
		return fmt.Errorf("failed to get cache info: %w", err)
	}
	for _, k := range []string{"cache_directory", "cached_files", "total_size_mb"} {
		if v, ok := stats[k]; ok {
			colours.Info.Fprintf(n.out, "  %s: %v\n", k, v)
		}
	}
	return nil
}

func (n *Narrator) ClearCache(cmd *cobra.Command, args []string) error {
	cache, err := n.cacheEngine()
	if cache == nil {
		return err
	}
	defer cache.Close()

	if err := cache.ClearCache(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	colours.Success.Fprintln(n.out, "✅ Speech cache cleared")
	return nil
}

// cacheEngine returns nil, nil when the configured engine keeps no cache.
func (n *Narrator) cacheEngine() (tts.CacheableEngine, error) {
	engine, err := n.engine()
	if err != nil {
		return nil, err
	}
	cache, ok := engine.(tts.CacheableEngine)
	if !ok {
		engine.Close()
		colours.Warning.Fprintln(n.out, "⚠️ The configured engine keeps no speech cache")
		return nil, nil
	}
	return cache, nil
}

func (n *Narrator) ListProgress(cmd *cobra.Command, args []string) {
	fmt.Fprintln(n.out)
	colours.Title.Fprintln(n.out, "🔖 Reading progress")
	if n.store == nil {
		colours.Warning.Fprintln(n.out, "⚠️ Progress store unavailable")
		return
	}

	all := n.store.All()
	for _, p := range all {
		colours.Info.Fprintf(n.out, "  • %s\n", p.DocumentID)
		fmt.Fprintf(n.out, "    page %d, paragraph %d · %.2fx · %s\n",
			p.PageIndex+1, p.ParagraphIndex+1, p.Speed, p.UpdatedAt.Format(time.DateTime))
	}
	if len(all) == 0 {
		colours.Warning.Fprintln(n.out, "🔍 Nothing read yet.")
	}
	colours.Info.Fprintf(n.out, "📁 %s\n", n.store.Path())
}

func (n *Narrator) ClearProgress(cmd *cobra.Command, args []string) error {
	if n.store == nil {
		return fmt.Errorf("progress store unavailable")
	}
	if err := n.store.Clear(extract.ID(args[0])); err != nil {
		return err
	}
	colours.Success.Fprintln(n.out, "✅ Reading position cleared")
	return nil
}

func formatBox(r page.Rect) string {
	return fmt.Sprintf("[%.0f,%.0f → %.0f,%.0f]", r.Left, r.Top, r.Right, r.Bottom)
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength-1]) + "…"
}

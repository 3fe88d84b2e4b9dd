package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"readaloud/internal/app"
	"readaloud/internal/cli/scheme/colours"
	"readaloud/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	var cfgFile string
	var verbose bool

	narrator := app.New()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		narrator.Shutdown()
		fmt.Println("\n" + colours.Warning.Sprint("👋 Goodbye! 🌙"))
		os.Exit(0)
	}()

	rootCmd := &cobra.Command{
		Use:   "readaloud",
		Short: "🔊 Narrate documents aloud",
		Long: `
┌─────────────────────────────────────┐
│  🔊 readaloud                       │
│  Documents, read to you aloud       │
│  page by page, paragraph by para 📖 │
└─────────────────────────────────────┘

readaloud extracts the text of PDF, EPUB, Markdown and plain text documents,
splits every page into paragraphs and speaks them one after another, turning
pages on its own. Pause, skip, change speed or set a sleep timer as it reads.
		`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if verbose {
				level = "debug"
			}
			if err := config.ConfigureLogging(level); err != nil {
				return err
			}
			return narrator.Setup(cfg)
		},
		Run: func(cmd *cobra.Command, args []string) {
			narrator.ShowWelcome()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.readaloud/readaloud.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log debug output")
	rootCmd.PersistentFlags().String("engine", "", "TTS engine: auto, espeak, say, sapi, googleclassic or mock")
	viper.BindPFlag("tts.type", rootCmd.PersistentFlags().Lookup("engine"))

	narrator.AddCommands(rootCmd)

	err := rootCmd.Execute()
	narrator.Shutdown()
	if err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
}

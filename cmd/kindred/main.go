// Kindred - a persona-based conversational companion
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/normanking/kindred/internal/config"
)

var (
	liveMode  bool
	personaID string
)

var rootCmd = &cobra.Command{
	Use:   "kindred",
	Short: "Kindred - a conversational companion with personas and memory",
	Long: `Kindred is a conversational companion. Each persona keeps its own
conversation history, rapport score, and a journal about you that it
updates in the background.

Text mode reads from stdin and reveals replies at a human typing pace.
Live mode streams microphone audio to the voice model and transcribes
both sides of the conversation into history.

Environment Variables:
  GEMINI_API_KEY   - generative language service key (or brain.api_key in config)`,
	RunE: runRoot,
}

func init() {
	rootCmd.Flags().BoolVar(&liveMode, "live", false, "start a streaming voice session instead of the text loop")
	rootCmd.Flags().StringVar(&personaID, "persona", "", "persona to activate at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if personaID != "" {
		app.engine.SetActive(personaID)
	}

	if liveMode {
		return app.runLive(cmd.Context())
	}
	return app.runChat(cmd.Context())
}

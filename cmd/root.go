package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "syosetu2ebook",
		Short: "Convert syosetu web novels into EPUB books",
		Long: `syosetu2ebook downloads a web novel from syosetu.com and writes one EPUB per volume.

Chapters are typeset vertically with ruby preserved. Furigana can be added and
finished books can be repackaged for Kobo readers.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newTocCmd())

	return cmd
}

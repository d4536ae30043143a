package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanbun-tools/syosetu2ebook/internal/export"
	"github.com/kanbun-tools/syosetu2ebook/internal/toc"
)

func newTocCmd() *cobra.Command {
	var flags fetchFlags
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "toc BOOK_URL",
		Short: "Print a novel's volumes and chapters without downloading them",
		Example: `  syosetu2ebook toc https://ncode.syosetu.com/n1234ab/
  syosetu2ebook toc https://ncode.syosetu.com/n1234ab/ --format parquet --output toc.parquet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "parquet" && output == "" {
				return fmt.Errorf("--output is required for parquet")
			}

			profile, err := flags.siteProfile()
			if err != nil {
				return err
			}
			catalog, err := toc.NewScanner(flags.fetcher(), profile).Scan(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if format == "parquet" {
				if err := export.WriteParquet(output, catalog); err != nil {
					return err
				}
				rows, err := export.ReadParquet(output)
				if err != nil {
					return fmt.Errorf("failed to read back %s: %w", output, err)
				}
				if len(rows) != catalog.ChapterCount() {
					return fmt.Errorf("%s holds %d rows, want %d", output, len(rows), catalog.ChapterCount())
				}
				fmt.Printf("Saved %d chapters to: %s\n", len(rows), output)
				return nil
			}

			var w io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			switch format {
			case "text":
				return export.WriteText(w, catalog)
			case "yaml":
				return export.WriteYAML(w, catalog)
			default:
				return fmt.Errorf("unknown format %q (text, yaml or parquet)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, yaml or parquet)")
	cmd.Flags().StringVar(&output, "output", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&flags.profile, "profile", "", "YAML site profile overriding the built-in selectors")
	cmd.Flags().Float64Var(&flags.rate, "rate", envFloat("SYOSETU2EBOOK_RATE", 2), "Requests per second (0 disables the limit)")
	cmd.Flags().IntVar(&flags.retries, "retries", 4, "Attempts per page")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Timeout per attempt")

	return cmd
}

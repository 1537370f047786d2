package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clipforge/capture/internal/bridge/x11"
	"github.com/clipforge/capture/internal/logger"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List capture sources and displays",
	Long: `List the displays and capture sources currently visible to ClipForge.

This command connects to the X server and enumerates displays and their
screen sources, plus top-level windows. Screen sources are listed in
display order.`,
	Example: `  # List sources in table format (default)
  clipforge sources

  # List sources in JSON format
  clipforge sources --format json`,
	RunE: runSources,
}

var sourcesFormat string

func init() {
	rootCmd.AddCommand(sourcesCmd)

	sourcesCmd.Flags().StringVarP(&sourcesFormat, "format", "f", "table", "output format (table or json)")
}

func runSources(cmd *cobra.Command, args []string) error {
	logger.Init("warn", true)

	b, err := x11.New()
	if err != nil {
		return fmt.Errorf("failed to connect to display server: %w", err)
	}
	defer b.Close()

	ctx := context.Background()
	displays, err := b.Displays(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate displays: %w", err)
	}
	sources, err := b.Sources(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate sources: %w", err)
	}

	if sourcesFormat == "json" {
		out := map[string]any{
			"displays": displays,
			"sources":  sources,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DISPLAY\tBOUNDS\tSCALE")
	for _, d := range displays {
		fmt.Fprintf(w, "%s\t%v\t%.1f\n", d.ID, d.Bounds, d.ScaleFactor)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SOURCE\tKIND\tNAME\tDISPLAY")
	for _, s := range sources {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.Name, s.DisplayID)
	}
	return w.Flush()
}

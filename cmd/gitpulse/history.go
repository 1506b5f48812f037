package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/gitpulse/internal/config"
	"github.com/rohankatakam/gitpulse/internal/output"
	"github.com/rohankatakam/gitpulse/internal/report"
	"github.com/rohankatakam/gitpulse/internal/storage"
)

var (
	historyKind  string
	historySince string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List and replay archived reports",
	Long: `Reports run with --archive (or archive.enabled) are stored in the
configured archive. These commands read the archive only; the commit log is
not read again.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived reports, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Render an archived report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Remove an archived report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)

	historyListCmd.Flags().StringVar(&historyKind, "analyzer", "", "only reports that ran this analyzer")
	historyListCmd.Flags().StringVar(&historySince, "after", "", "only reports generated after this date")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum reports to list (0 for all)")
}

func openArchive() (storage.Archive, error) {
	if vr := cfg.Validate(config.ValidationContextArchive); vr.HasErrors() {
		return nil, vr.Err()
	}
	return storage.Open(cfg.Archive.Options(), logger)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	filter := storage.Filter{Limit: historyLimit}
	if historyKind != "" {
		kind, ok := report.ParseKind(historyKind)
		if !ok {
			return fmt.Errorf("unknown analyzer %q", historyKind)
		}
		filter.Kind = kind
	}
	if historySince != "" {
		since, err := config.ParseTime(historySince)
		if err != nil {
			return fmt.Errorf("invalid --after %q: %w", historySince, err)
		}
		filter.Since = since
	}

	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	entries, err := archive.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if format != output.FormatText {
		return output.WriteValue(cmd.OutOrStdout(), format, entries)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No archived reports.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tGENERATED\tANALYZERS\tCOMMITS\tSOURCE")
	for _, e := range entries {
		commits := humanize.Comma(int64(e.CommitsProcessed))
		if e.Truncated {
			commits += " (partial)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.RunID, humanize.Time(e.GeneratedAt), kindList(e.Analyzers), commits, e.Source)
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	env, err := archive.Get(cmd.Context(), args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no archived report with run id %s", args[0])
	}
	if err != nil {
		return err
	}
	return render(cmd, env)
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	if err := archive.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no archived report with run id %s", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func kindList(kinds []report.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/regsync/internal/models"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Sweep the company search index",
	Long: `Page through the advanced company search and append every result not
already stored to the index collection.`,
	Run: runIndex,
}

var detailsCmd = &cobra.Command{
	Use:   "details",
	Short: "Refresh company profiles",
	Long: `Fetch the profile of every active company in the index and append the
profiles whose content changed to the detail collection.`,
	Run: runDetails,
}

var (
	indexQuery    string
	indexMaxPages int

	detailsLimit int
	detailsSleep time.Duration
)

func init() {
	indexCmd.Flags().StringVarP(&indexQuery, "query", "q", "", "Company name fragment to search for (default from config)")
	indexCmd.Flags().IntVar(&indexMaxPages, "max-pages", 0, "Stop after this many pages (0 for no limit)")

	detailsCmd.Flags().IntVarP(&detailsLimit, "limit", "n", 0, "Refresh at most this many companies (default from config)")
	detailsCmd.Flags().DurationVar(&detailsSleep, "sleep", -1, "Pause between companies (default from config)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIndex(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	a := loadApp(ctx)

	query := indexQuery
	if query == "" {
		query = a.Config.Registry.Query
	}

	summary := a.IndexSweep.Run(ctx, query, indexMaxPages)
	printSummary(out, "index", summary)
	a.Close()
	if summary.Status == models.StatusError {
		os.Exit(1)
	}
}

func runDetails(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	a := loadApp(ctx)

	limit := detailsLimit
	if limit == 0 {
		limit = a.Config.Details.Limit
	}
	sleep := detailsSleep
	if sleep < 0 {
		sleep = a.Config.Details.PolitenessDelay.Std()
	}

	summary := a.DetailSweep.Run(ctx, limit, sleep)
	printSummary(out, "details", summary)
	a.Close()
	if summary.Status == models.StatusError {
		os.Exit(1)
	}
}

// printSummary prints a run summary with its status color coded.
func printSummary(w io.Writer, kind string, s models.RunSummary) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	status := green
	switch s.Status {
	case models.StatusPartial:
		status = yellow
	case models.StatusError:
		status = red
	}

	fmt.Fprintf(w, "%s: ", kind)
	status.Fprintln(w, s.Status)

	if s.Pages > 0 {
		fmt.Fprintf(w, "  pages:     %d\n", s.Pages)
	}
	if s.Processed > 0 {
		fmt.Fprintf(w, "  processed: %d\n", s.Processed)
	}
	if s.Published > 0 {
		fmt.Fprintf(w, "  published: %d\n", s.Published)
	}
	green.Fprintf(w, "  inserted:  %d\n", s.Inserted)
	fmt.Fprintf(w, "  skipped:   %d\n", s.Skipped)

	if s.Message != "" {
		red.Fprintf(w, "  %s\n", s.Message)
	}
	if s.ErrorsCount > 0 {
		yellow.Fprintf(w, "  %d errors", s.ErrorsCount)
		if len(s.Errors) < s.ErrorsCount {
			fmt.Fprintf(w, " (showing %d)", len(s.Errors))
		}
		fmt.Fprintln(w)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
}

package cli

import (
	"fmt"
	"io"
	"iter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/regsync/internal/models"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "List companies whose profile is out of date",
	Long: `List, most recently indexed first, the companies whose latest index
entry is not yet reflected in the detail collection.`,
	Run: runDiff,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish pending changes to the topic",
	Run:   runPublish,
}

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Deliver published changes to the subscriber",
	Long: `Deliver due messages from the topic to the configured push endpoint, or
to the in-process consumer when no endpoint is configured. Without --once
the command keeps polling until interrupted.`,
	Run: runDeliver,
}

var (
	diffLimit    int
	diffStat     bool
	publishLimit int
	deliverOnce  bool
)

func init() {
	diffCmd.Flags().IntVarP(&diffLimit, "limit", "n", 0, "Show at most this many changes")
	diffCmd.Flags().BoolVar(&diffStat, "stat", false, "Show the number of pending changes only")
	publishCmd.Flags().IntVarP(&publishLimit, "limit", "n", 0, "Publish at most this many changes (0 for all)")
	deliverCmd.Flags().BoolVar(&deliverOnce, "once", false, "Deliver what is due and exit")
}

func runDiff(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	a := loadApp(ctx)
	defer a.Close()

	n, err := printChanges(out, a.Detector.Changes(ctx), diffLimit, diffStat)
	if err != nil {
		exitError("failed to compute changes: %v", err)
	}
	if n == 0 {
		fmt.Fprintln(out, "No pending changes")
	}
}

// printChanges writes up to limit events and returns how many it saw. With
// stat set only the total is printed.
func printChanges(w io.Writer, changes iter.Seq2[models.ChangeEvent, error], limit int, stat bool) (int, error) {
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	n := 0
	for ev, err := range changes {
		if err != nil {
			return n, err
		}
		n++
		if stat {
			continue
		}
		yellow.Fprintf(w, "changed: %s", ev.Identifier())
		if ev.DateIndexed != nil {
			cyan.Fprintf(w, "  indexed %s", *ev.DateIndexed)
		}
		fmt.Fprintf(w, "  %s\n", shortSig(ev.IndexRowSignature))
		if limit > 0 && n >= limit {
			break
		}
	}
	if stat && n > 0 {
		fmt.Fprintf(w, " %d companies changed\n", n)
	}
	return n, nil
}

func runPublish(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	a := loadApp(ctx)
	defer a.Close()

	n, err := a.Publisher.Publish(ctx, publishLimit)
	if err != nil {
		exitError("published %d before failing: %v", n, err)
	}
	green := color.New(color.FgGreen)
	green.Fprintf(out, "Published %d changes to %s\n", n, a.Topic.Name())
}

func runDeliver(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	a := loadApp(ctx)
	defer a.Close()

	d := a.Deliverer()
	if !deliverOnce {
		if err := d.Run(ctx); err != nil {
			exitError("%v", err)
		}
		return
	}

	n, err := d.RunOnce(ctx)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Fprintf(out, "Delivered %d messages\n", n)
}

// shortSig returns the first 12 characters of a signature
func shortSig(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}

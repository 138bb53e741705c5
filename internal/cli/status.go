package cli

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/regsync/internal/channel"
	"github.com/kilupskalvis/regsync/internal/schema"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse and topic status",
	Long:  `Show the row count of each warehouse collection and the topic backlog.`,
	Run:   runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the regsync version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(out, "regsync %s\n", version())
	},
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	a := loadApp(ctx)
	defer a.Close()

	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "Warehouse (%s)\n", a.Config.Warehouse.Driver)

	var targets []*schema.Target
	for _, name := range schema.Names() {
		t, _ := schema.Lookup(name)
		targets = append(targets, t)
	}
	counts, err := a.Warehouse.Counts(ctx, targets...)
	if err != nil {
		exitError("failed to count rows: %v", err)
	}
	for _, name := range schema.Names() {
		fmt.Fprintf(out, "  %-20s %d rows\n", name, counts[name])
	}

	stats, err := a.Topic.Stats()
	if err != nil {
		exitError("failed to read topic: %v", err)
	}
	fmt.Fprintln(out)
	cyan.Fprintf(out, "Topic (%s)\n", a.Topic.Name())
	printTopicStats(out, stats)
}

// printTopicStats prints the backlog, highlighting dead letters.
func printTopicStats(w io.Writer, s channel.Stats) {
	fmt.Fprintf(w, "  %-20s %d\n", "pending", s.Pending)
	if s.DeadLetter > 0 {
		color.New(color.FgRed).Fprintf(w, "  %-20s %d\n", "dead-lettered", s.DeadLetter)
		return
	}
	fmt.Fprintf(w, "  %-20s %d\n", "dead-lettered", 0)
}

// version reports the module version stamped by the Go toolchain.
func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}

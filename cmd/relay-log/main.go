// Command relay-log views and analyzes relay protocol log files.
//
// Log files are written by relay-server and relay-client when run with the
// -protocol-log flag.
//
// Usage:
//
//	relay-log <command> [flags] <file.rlog>
//
// Examples:
//
//	# View all events
//	relay-log view server.rlog
//
//	# View only health checker events of the client side
//	relay-log view --layer health --role client client.rlog
//
//	# Export to CSV
//	relay-log export --format csv -o client.csv client.rlog
//
//	# Keep the events of one transport
//	relay-log filter --conn-id 7.0011223344556677 -o one.rlog server.rlog
//
//	# Show per-transport statistics
//	relay-log stats server.rlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relay-protocol/relay-go/cmd/relay-log/commands"
)

const usage = `relay-log - Relay Protocol Log Analyzer

Usage:
  relay-log <command> [flags] <file.rlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV format
  filter   Filter log file and write to new file
  stats    Show per-transport statistics

Use "relay-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set with a usage header.
func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "relay-log %s - %s\n\nUsage:\n  relay-log %s [flags] <file.rlog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

// logPath returns the single positional argument or exits.
func logPath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View log file in human-readable format")
	layer := fs.String("layer", "", "Filter by layer (wire, transport, health, harness)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (data, control, state, error)")
	role := fs.String("role", "", "Filter by local role (server, client)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := logPath(fs)

	var filter commands.ViewFilter
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if *role != "" {
		r, err := commands.ParseRoleFlag(*role)
		if err != nil {
			fail(err)
		}
		filter.Role = &r
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export log file to JSONL or CSV format")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := commands.RunExport(logPath(fs), *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	channel := fs.String("channel", "", "Filter by connection channel number")
	linkID := fs.String("link-id", "", "Filter by physical link ID")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (wire, transport, health, harness)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (data, control, state, error)")
	role := fs.String("role", "", "Filter by local role (server, client)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := logPath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, commands.FilterOptions{
		Output:    *output,
		ConnID:    *connID,
		Channel:   *channel,
		LinkID:    *linkID,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
		Role:      *role,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show per-transport statistics")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := commands.RunStats(logPath(fs), os.Stdout); err != nil {
		fail(err)
	}
}

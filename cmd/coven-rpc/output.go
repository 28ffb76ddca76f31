// ABOUTME: Result rendering for coven-rpc: colored console text or JSON
// ABOUTME: JSON output doubles as discovery data for a follow-up call

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/2389/coven-rpc/internal/rpc"
	"github.com/2389/coven-rpc/internal/transport"
)

// printResults writes one block per reply, sorted by sender. Successful
// replies show their data; failures show the status message. verbose
// adds the status line for successful replies too.
func printResults(w io.Writer, results []*rpc.Result, verbose bool) {
	sorted := append([]*rpc.Result(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sender < sorted[j].Sender })

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for _, r := range sorted {
		switch {
		case r.OK() && verbose:
			fmt.Fprintf(w, "%-40s %s\n", r.Sender, green(r.StatusMsg))
		case r.OK():
			fmt.Fprintln(w, r.Sender)
		case r.StatusCode == transport.ApplicationFailure:
			fmt.Fprintf(w, "%-40s %s\n", r.Sender, yellow(r.StatusMsg))
		default:
			fmt.Fprintf(w, "%-40s %s\n", r.Sender, red(r.StatusMsg))
		}

		keys := make([]string, 0, len(r.Data))
		for k := range r.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   %s: %v\n", k, r.Data[k])
		}
		fmt.Fprintln(w)
	}
}

// printJSON writes the results as an indented JSON array.
func printJSON(w io.Writer, results []*rpc.Result) error {
	if results == nil {
		results = []*rpc.Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// exitCode is 0 when every discovered node answered OK.
func exitCode(stats *rpc.Stats) int {
	if stats == nil {
		return 0
	}
	if stats.FailCount > 0 || len(stats.NoResponseFrom) > 0 {
		return 1
	}
	return 0
}

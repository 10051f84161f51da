// Package reporter turns execution results into counts, a terminal summary
// and optional JSON files.
package reporter

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/yuya-takeyama/crustasync/pkg/action"
)

type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Moved   int `json:"moved"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Cancelled is the part of Skipped that never ran because the run was
	// interrupted.
	Cancelled int `json:"cancelled"`
	Warnings  int `json:"warnings"`
	// BytesWritten counts file content sent to the destination.
	BytesWritten int64 `json:"bytesWritten"`
}

// AnyFailure is the sole basis for the exit status.
func (s Summary) AnyFailure() bool {
	return s.Failed > 0 || s.Cancelled > 0
}

func (s Summary) ExitCode() int {
	if s.AnyFailure() {
		return 1
	}
	return 0
}

func (s Summary) Total() int {
	return s.Created + s.Updated + s.Deleted + s.Moved + s.Skipped + s.Failed
}

func Summarize(results []action.Result) Summary {
	var s Summary
	for _, r := range results {
		if r.Warning != "" {
			s.Warnings++
		}
		switch r.Outcome {
		case action.Failed:
			s.Failed++
		case action.Skipped:
			s.Skipped++
			if r.SkipReason == action.SkipCancelled {
				s.Cancelled++
			}
		case action.Success:
			switch r.Action.Type {
			case action.Create:
				s.Created++
			case action.Update:
				s.Updated++
			case action.Delete:
				s.Deleted++
			case action.Move:
				s.Moved++
			}
			if (r.Action.Type == action.Create || r.Action.Type == action.Update) && !r.Action.IsDirectory() {
				s.BytesWritten += r.Action.Entry.Size
			}
		}
	}
	return s
}

// Print writes a one-line summary followed by failure details.
func Print(w io.Writer, s Summary, results []action.Result, dryRun bool) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, r := range results {
		switch {
		case r.Outcome == action.Failed:
			red.Fprintf(w, "failed: %s: %v\n", r.Action, r.Err)
		case r.Warning != "":
			yellow.Fprintf(w, "warning: %s\n", r.Warning)
		}
	}

	if dryRun {
		bold.Fprint(w, "(dryrun) ")
		fmt.Fprintf(w, "would apply %d action(s): %d create, %d update, %d delete, %d move\n",
			s.Skipped, planned(results, action.Create), planned(results, action.Update),
			planned(results, action.Delete), planned(results, action.Move))
		return
	}

	green.Fprintf(w, "%d created, %d updated, %d deleted, %d moved", s.Created, s.Updated, s.Deleted, s.Moved)
	fmt.Fprintf(w, " (%s written)", humanize.Bytes(uint64(s.BytesWritten)))
	if s.Skipped > 0 {
		yellow.Fprintf(w, ", %d skipped", s.Skipped)
	}
	if s.Failed > 0 {
		red.Fprintf(w, ", %d failed", s.Failed)
	}
	fmt.Fprintln(w)
	if s.Cancelled > 0 {
		yellow.Fprintf(w, "interrupted: %d action(s) not started\n", s.Cancelled)
	}
}

func planned(results []action.Result, t action.Type) int {
	n := 0
	for _, r := range results {
		if r.Action.Type == t {
			n++
		}
	}
	return n
}

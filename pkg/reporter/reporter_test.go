package reporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/crustasync/pkg/action"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/planner"
	"github.com/yuya-takeyama/crustasync/pkg/snapshot"
)

func file(path string, size int64) snapshot.Entry {
	return snapshot.Entry{Path: path, Kind: backend.File, Size: size}
}

func sampleResults() []action.Result {
	return []action.Result{
		{Action: action.NewCreate(snapshot.Entry{Path: "docs", Kind: backend.Directory}, action.SourceRef{Path: "docs"}), Outcome: action.Success, Attempts: 1},
		{Action: action.NewCreate(file("docs/a.txt", 1500), action.SourceRef{Path: "docs/a.txt"}), Outcome: action.Success, Attempts: 1},
		{Action: action.NewUpdate(file("b.txt", 500), action.SourceRef{Path: "b.txt"}), Outcome: action.Success, Attempts: 2},
		{Action: action.NewDelete(file("old.txt", 10)), Outcome: action.Failed, Attempts: 1, Err: errors.New("permission denied")},
		{Action: action.NewMove("x", "y", file("y", 3)), Outcome: action.Success, Attempts: 1, Warning: "move x -> y left the source in place"},
		{Action: action.NewCreate(file("z.txt", 1), action.SourceRef{Path: "z.txt"}), Outcome: action.Skipped, SkipReason: action.SkipCancelled},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResults())

	assert.Equal(t, Summary{
		Created:      2,
		Updated:      1,
		Deleted:      0,
		Moved:        1,
		Skipped:      1,
		Failed:       1,
		Cancelled:    1,
		Warnings:     1,
		BytesWritten: 2000,
	}, s)
	assert.Equal(t, 6, s.Total())
	assert.True(t, s.AnyFailure())
	assert.Equal(t, 1, s.ExitCode())
}

func TestAnyFailure(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    bool
	}{
		{"clean run", Summary{Created: 3}, false},
		{"dry-run skips", Summary{Skipped: 4}, false},
		{"failure", Summary{Failed: 1}, true},
		{"interrupted", Summary{Skipped: 2, Cancelled: 2}, true},
		{"warning only", Summary{Moved: 1, Warnings: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.AnyFailure())
		})
	}
}

func TestPrint(t *testing.T) {
	color.NoColor = true
	results := sampleResults()

	var buf bytes.Buffer
	Print(&buf, Summarize(results), results, false)

	out := buf.String()
	assert.Contains(t, out, "failed: delete old.txt: permission denied\n")
	assert.Contains(t, out, "warning: move x -> y left the source in place\n")
	assert.Contains(t, out, "2 created, 1 updated, 0 deleted, 1 moved (2.0 kB written), 1 skipped, 1 failed\n")
	assert.Contains(t, out, "interrupted: 1 action(s) not started\n")
}

func TestPrintDryRun(t *testing.T) {
	color.NoColor = true
	results := []action.Result{
		{Action: action.NewCreate(file("a", 1), action.SourceRef{Path: "a"}), Outcome: action.Skipped, SkipReason: action.SkipDryRun},
		{Action: action.NewDelete(file("b", 1)), Outcome: action.Skipped, SkipReason: action.SkipDryRun},
	}

	var buf bytes.Buffer
	Print(&buf, Summarize(results), results, true)

	assert.Equal(t, "(dryrun) would apply 2 action(s): 1 create, 0 update, 1 delete, 0 move\n", buf.String())
}

func TestWritePlan(t *testing.T) {
	fs = afero.NewMemMapFs()

	plan, err := planner.Build([]action.Action{
		action.NewCreate(snapshot.Entry{Path: "manual", Kind: backend.Directory}, action.SourceRef{Path: "manual"}),
		action.NewCreate(file("manual/intro.md", 5), action.SourceRef{Path: "manual/intro.md"}),
		action.NewMove("docs/a.md", "manual/a.md", file("manual/a.md", 3)),
	}, nil)
	require.NoError(t, err)

	roots := Roots{Source: "/src", Dest: "gd:backup/"}
	require.NoError(t, WritePlan("/plan.json", plan, roots))

	data, err := afero.ReadFile(fs, "/plan.json")
	require.NoError(t, err)

	var got PlanResult
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, PlanSummary{Create: 2, Move: 1, Batches: 2}, got.Summary)
	assert.Equal(t, [][]PlanFile{
		{{Action: "create", Kind: "directory", Source: "/src/manual", Target: "gd:backup/manual"}},
		{
			{Action: "move", Kind: "file", From: "gd:backup/docs/a.md", Target: "gd:backup/manual/a.md"},
			{Action: "create", Kind: "file", Source: "/src/manual/intro.md", Target: "gd:backup/manual/intro.md"},
		},
	}, got.Batches)
	assert.Empty(t, got.Staged)
}

func TestWriteResult(t *testing.T) {
	fs = afero.NewMemMapFs()

	roots := Roots{Source: "/src", Dest: "s3://bucket/prefix"}
	require.NoError(t, WriteResult("/result.json", sampleResults(), roots))

	data, err := afero.ReadFile(fs, "/result.json")
	require.NoError(t, err)

	var got SyncResult
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []ErrorFile{
		{Action: "delete", Target: "s3://bucket/prefix/old.txt", Error: "permission denied"},
	}, got.Errors)
	require.Len(t, got.Files, 5)
	assert.Equal(t, ResultFile{Action: "created", Source: "/src/docs", Target: "s3://bucket/prefix/docs"}, got.Files[0])
	assert.Equal(t, ResultFile{
		Action:  "moved",
		From:    "s3://bucket/prefix/x",
		Target:  "s3://bucket/prefix/y",
		Warning: "move x -> y left the source in place",
	}, got.Files[3])
	assert.Equal(t, ResultFile{
		Action: "skipped",
		Source: "/src/z.txt",
		Target: "s3://bucket/prefix/z.txt",
		Reason: "cancelled",
	}, got.Files[4])
	assert.Equal(t, 1, got.Summary.Failed)
}

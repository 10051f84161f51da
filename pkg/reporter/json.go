package reporter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/yuya-takeyama/crustasync/pkg/action"
	"github.com/yuya-takeyama/crustasync/pkg/planner"
)

var fs = afero.NewOsFs()

// PlanResult represents the planned operations before execution
type PlanResult struct {
	Batches [][]PlanFile `json:"batches"`
	Staged  []PlanFile   `json:"staged"`
	Summary PlanSummary  `json:"summary"`
}

type PlanFile struct {
	Action string `json:"action"` // "create", "update", "delete", "move"
	Kind   string `json:"kind"`
	Source string `json:"source,omitempty"`
	From   string `json:"from,omitempty"`
	Target string `json:"target"`
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Move    int `json:"move"`
	Batches int `json:"batches"`
}

// SyncResult represents the actual execution results
type SyncResult struct {
	Files   []ResultFile `json:"files"`
	Errors  []ErrorFile  `json:"errors"`
	Summary Summary      `json:"summary"`
}

type ResultFile struct {
	Action  string `json:"action"` // "created", "updated", "deleted", "moved", "skipped"
	Source  string `json:"source,omitempty"`
	From    string `json:"from,omitempty"`
	Target  string `json:"target"`
	Reason  string `json:"reason,omitempty"`
	Warning string `json:"warning,omitempty"`
}

type ErrorFile struct {
	Action string `json:"action"`
	Source string `json:"source,omitempty"`
	From   string `json:"from,omitempty"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

// Roots are the display names of both sides, used to qualify paths.
type Roots struct {
	Source string
	Dest   string
}

func (r Roots) src(path string) string {
	return qualify(r.Source, path)
}

func (r Roots) dst(path string) string {
	return qualify(r.Dest, path)
}

func qualify(root, path string) string {
	if path == "" {
		return root
	}
	if root == "" {
		return path
	}
	return strings.TrimSuffix(root, "/") + "/" + path
}

func planFile(a action.Action, roots Roots) PlanFile {
	f := PlanFile{Action: string(a.Type), Kind: a.Entry.Kind.String()}
	switch a.Type {
	case action.Create, action.Update:
		f.Source = roots.src(a.Source.Path)
		f.Target = roots.dst(a.Path)
	case action.Delete:
		f.Target = roots.dst(a.Path)
	case action.Move:
		f.From = roots.dst(a.From)
		f.Target = roots.dst(a.To)
	}
	return f
}

func NewPlanResult(plan *planner.Plan, roots Roots) PlanResult {
	res := PlanResult{Batches: [][]PlanFile{}, Staged: []PlanFile{}}
	for _, batch := range plan.Batches {
		files := make([]PlanFile, 0, len(batch))
		for _, a := range batch {
			files = append(files, planFile(a, roots))
			switch a.Type {
			case action.Create:
				res.Summary.Create++
			case action.Update:
				res.Summary.Update++
			case action.Delete:
				res.Summary.Delete++
			case action.Move:
				res.Summary.Move++
			}
		}
		res.Batches = append(res.Batches, files)
	}
	for _, a := range plan.Staged {
		res.Staged = append(res.Staged, planFile(a, roots))
	}
	res.Summary.Batches = len(plan.Batches)
	return res
}

var pastTense = map[action.Type]string{
	action.Create: "created",
	action.Update: "updated",
	action.Delete: "deleted",
	action.Move:   "moved",
}

func NewSyncResult(results []action.Result, roots Roots) SyncResult {
	res := SyncResult{Files: []ResultFile{}, Errors: []ErrorFile{}, Summary: Summarize(results)}
	for _, r := range results {
		pf := planFile(r.Action, roots)
		switch r.Outcome {
		case action.Failed:
			msg := ""
			if r.Err != nil {
				msg = r.Err.Error()
			}
			res.Errors = append(res.Errors, ErrorFile{
				Action: pf.Action,
				Source: pf.Source,
				From:   pf.From,
				Target: pf.Target,
				Error:  msg,
			})
		case action.Skipped:
			res.Files = append(res.Files, ResultFile{
				Action: "skipped",
				Source: pf.Source,
				From:   pf.From,
				Target: pf.Target,
				Reason: string(r.SkipReason),
			})
		default:
			res.Files = append(res.Files, ResultFile{
				Action:  pastTense[r.Action.Type],
				Source:  pf.Source,
				From:    pf.From,
				Target:  pf.Target,
				Warning: r.Warning,
			})
		}
	}
	return res
}

func WritePlan(path string, plan *planner.Plan, roots Roots) error {
	return writeJSON(path, NewPlanResult(plan, roots))
}

func WriteResult(path string, results []action.Result, roots Roots) error {
	return writeJSON(path, NewSyncResult(results, roots))
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Package action holds the sync operations exchanged between the differ,
// planner, executor and reporter.
package action

import (
	"fmt"

	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/snapshot"
)

type Type string

const (
	Create Type = "create"
	Update Type = "update"
	Delete Type = "delete"
	Move   Type = "move"
)

// SourceRef is what the executor needs to stream content from the source.
type SourceRef struct {
	Backend backend.Backend
	Path    string
}

// Action is one convergence operation. Entry is the source entry for
// Create, Update and Move, and the destination entry for Delete. Moves keep
// a Source so they can be staged as a delete and create.
type Action struct {
	Type   Type
	Path   string
	From   string
	To     string
	Entry  snapshot.Entry
	Source SourceRef

	// Descendants lists the source entries below a directory Move target so a
	// staged move can be rebuilt as creates.
	Descendants []snapshot.Entry
}

func NewCreate(e snapshot.Entry, src SourceRef) Action {
	return Action{Type: Create, Path: e.Path, Entry: e, Source: src}
}

func NewUpdate(e snapshot.Entry, src SourceRef) Action {
	return Action{Type: Update, Path: e.Path, Entry: e, Source: src}
}

// NewDelete removes the destination entry e.
func NewDelete(e snapshot.Entry) Action {
	return Action{Type: Delete, Path: e.Path, Entry: e}
}

func NewMove(from, to string, e snapshot.Entry) Action {
	return Action{Type: Move, From: from, To: to, Path: to, Entry: e}
}

// Target is the destination path the action writes, or "" for deletes.
func (a Action) Target() string {
	switch a.Type {
	case Create, Update:
		return a.Path
	case Move:
		return a.To
	default:
		return ""
	}
}

// Vacated is the destination path the action removes, or "" when nothing is
// removed.
func (a Action) Vacated() string {
	switch a.Type {
	case Delete:
		return a.Path
	case Move:
		return a.From
	default:
		return ""
	}
}

// IsDirectory reports whether the action operates on a directory.
func (a Action) IsDirectory() bool {
	return a.Entry.Kind == backend.Directory
}

func (a Action) String() string {
	switch a.Type {
	case Move:
		return fmt.Sprintf("move %s -> %s", a.From, a.To)
	default:
		return fmt.Sprintf("%s %s", a.Type, a.Path)
	}
}

// Outcome is the terminal state of an executed action.
type Outcome string

const (
	Success Outcome = "success"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipDryRun           SkipReason = "dry-run"
	SkipDependencyFailed SkipReason = "dependency-failed"
	SkipCancelled        SkipReason = "cancelled"
)

type Result struct {
	Action     Action
	Outcome    Outcome
	SkipReason SkipReason
	Err        error
	// Attempts counts backend calls made for the action, retries included.
	Attempts int
	// Warning is set when the action succeeded in a degraded way, such as a
	// copy-and-delete move that left the source behind.
	Warning string
}

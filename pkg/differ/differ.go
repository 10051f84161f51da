// Package differ compares a source and a destination snapshot and produces
// the actions that make the destination match the source.
package differ

import (
	"sort"

	"github.com/yuya-takeyama/crustasync/internal/pathutil"
	"github.com/yuya-takeyama/crustasync/pkg/action"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/snapshot"
)

// Diff returns the actions converging dst onto src, sorted by path. Content
// for creates and updates is read from source.
func Diff(src, dst *snapshot.Snapshot, source backend.Backend) []action.Action {
	d := &differ{
		src:     src,
		dst:     dst,
		source:  source,
		creates: map[string]snapshot.Entry{},
		deletes: map[string]snapshot.Entry{},
	}
	d.partition()
	d.detectMoves(backend.Directory)
	d.detectMoves(backend.File)
	d.pruneDeletes()
	return d.actions()
}

type differ struct {
	src, dst *snapshot.Snapshot
	source   backend.Backend

	creates map[string]snapshot.Entry
	deletes map[string]snapshot.Entry
	updates []snapshot.Entry
	moves   []action.Action
}

// partition splits paths into source-only creates, destination-only deletes
// and content updates. A kind change is both a delete and a create.
func (d *differ) partition() {
	for p, se := range d.src.Entries {
		de, ok := d.dst.Entries[p]
		switch {
		case !ok:
			d.creates[p] = se
		case se.Kind != de.Kind:
			d.creates[p] = se
			d.deletes[p] = de
		case !snapshot.SameContent(se, de):
			d.updates = append(d.updates, se)
		}
	}
	for p, de := range d.dst.Entries {
		if _, ok := d.src.Entries[p]; !ok {
			d.deletes[p] = de
		}
	}
}

type pair struct {
	create, delete string
	distance       int
}

// detectMoves pairs creates and deletes of the given kind that carry the
// same strong fingerprint. Candidates are taken by path edit distance, then
// by destination path. Directories are taken shallowest destination first so
// a directory pair absorbs every create and delete below it.
func (d *differ) detectMoves(kind backend.Kind) {
	byFingerprint := map[string][]string{}
	for p, e := range d.deletes {
		if e.Kind == kind && snapshot.IsStrong(e.Fingerprint) {
			byFingerprint[e.Fingerprint] = append(byFingerprint[e.Fingerprint], p)
		}
	}
	if len(byFingerprint) == 0 {
		return
	}

	var pairs []pair
	for cp, ce := range d.creates {
		if ce.Kind != kind {
			continue
		}
		for _, dp := range byFingerprint[ce.Fingerprint] {
			if d.deletes[dp].Size != ce.Size {
				continue
			}
			pairs = append(pairs, pair{create: cp, delete: dp, distance: pathutil.EditDistance(dp, cp)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if kind == backend.Directory {
			if da, db := pathutil.Depth(a.create), pathutil.Depth(b.create); da != db {
				return da < db
			}
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if a.create != b.create {
			return a.create < b.create
		}
		return a.delete < b.delete
	})

	// A directory that had a descendant moved out no longer holds the
	// content its fingerprint describes.
	hollowed := map[string]bool{}
	for _, p := range pairs {
		ce, createOpen := d.creates[p.create]
		_, deleteOpen := d.deletes[p.delete]
		if !createOpen || !deleteOpen || hollowed[p.delete] {
			continue
		}
		for _, a := range pathutil.Ancestors(p.delete) {
			hollowed[a] = true
		}
		mv := action.NewMove(p.delete, p.create, ce)
		mv.Source = action.SourceRef{Backend: d.source, Path: p.create}
		delete(d.creates, p.create)
		delete(d.deletes, p.delete)
		if kind == backend.Directory {
			mv.Descendants = d.src.Descendants(p.create)
			for _, e := range mv.Descendants {
				delete(d.creates, e.Path)
			}
			for _, e := range d.dst.Descendants(p.delete) {
				delete(d.deletes, e.Path)
			}
		}
		d.moves = append(d.moves, mv)
	}
}

// pruneDeletes drops deletes already covered by deleting an ancestor.
func (d *differ) pruneDeletes() {
	for p := range d.deletes {
		for _, a := range pathutil.Ancestors(p) {
			if ae, ok := d.deletes[a]; ok && ae.IsDir() {
				delete(d.deletes, p)
				break
			}
		}
	}
}

func (d *differ) actions() []action.Action {
	out := make([]action.Action, 0, len(d.creates)+len(d.deletes)+len(d.updates)+len(d.moves))
	for _, e := range d.creates {
		out = append(out, action.NewCreate(e, action.SourceRef{Backend: d.source, Path: e.Path}))
	}
	for _, e := range d.updates {
		out = append(out, action.NewUpdate(e, action.SourceRef{Backend: d.source, Path: e.Path}))
	}
	for _, e := range d.deletes {
		out = append(out, action.NewDelete(e))
	}
	out = append(out, d.moves...)
	Sort(out)
	return out
}

var typeOrder = map[action.Type]int{
	action.Delete: 0,
	action.Move:   1,
	action.Create: 2,
	action.Update: 3,
}

// Sort orders actions by path, then deletes before moves before writes.
func Sort(actions []action.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return typeOrder[a.Type] < typeOrder[b.Type]
	})
}

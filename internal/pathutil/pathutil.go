// Package pathutil works with root-relative slash-separated paths. The empty
// string denotes the root itself.
package pathutil

import (
	"path"
	"strings"
)

// Join appends leaf to base.
func Join(base, leaf string) string {
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

// Dir returns the parent of p, or "" for top-level entries.
func Dir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Base returns the last segment of p.
func Base(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Depth is the number of segments in p.
func Depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// Segments splits p into its components.
func Segments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// IsAncestor reports whether a is a strict ancestor of p.
func IsAncestor(a, p string) bool {
	if a == "" {
		return p != ""
	}
	return len(p) > len(a) && p[len(a)] == '/' && strings.HasPrefix(p, a)
}

// Ancestors returns the strict ancestors of p, nearest first, excluding root.
func Ancestors(p string) []string {
	var out []string
	for d := Dir(p); d != ""; d = Dir(d) {
		out = append(out, d)
	}
	return out
}

// Normalize converts a user-provided path into root-relative form.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// EditDistance is the Levenshtein distance between the segment lists of a
// and b.
func EditDistance(a, b string) int {
	as, bs := Segments(a), Segments(b)
	prev := make([]int, len(bs)+1)
	cur := make([]int, len(bs)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(as); i++ {
		cur[0] = i
		for j := 1; j <= len(bs); j++ {
			cost := 1
			if as[i-1] == bs[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(bs)]
}

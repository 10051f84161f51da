package differ

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/crustasync/internal/testutil"
	"github.com/yuya-takeyama/crustasync/pkg/action"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/snapshot"
)

func build(t *testing.T, root string, files map[string]string) (*snapshot.Snapshot, backend.Backend) {
	t.Helper()
	b, _ := testutil.MemTree(t, root, files)
	s, err := snapshot.Build(context.Background(), b, snapshot.Options{})
	require.NoError(t, err)
	return s, b
}

func describe(actions []action.Action) []string {
	out := []string{}
	for _, a := range actions {
		out = append(out, a.String())
	}
	return out
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		src  map[string]string
		dst  map[string]string
		want []string
	}{
		{
			name: "identical trees",
			src:  map[string]string{"docs/readme.txt": "v1", "top.txt": "t", "empty/": ""},
			dst:  map[string]string{"docs/readme.txt": "v1", "top.txt": "t", "empty/": ""},
			want: []string{},
		},
		{
			name: "empty destination",
			src:  map[string]string{"docs/readme.txt": "v1"},
			dst:  map[string]string{},
			want: []string{"create docs", "create docs/readme.txt"},
		},
		{
			name: "content change",
			src:  map[string]string{"a.txt": "new", "b.txt": "same"},
			dst:  map[string]string{"a.txt": "old", "b.txt": "same"},
			want: []string{"update a.txt"},
		},
		{
			name: "deleted directory prunes descendants",
			src:  map[string]string{"keep.txt": "k"},
			dst:  map[string]string{"keep.txt": "k", "old/a.txt": "a", "old/sub/b.txt": "b"},
			want: []string{"delete old"},
		},
		{
			name: "file moved between existing directories",
			src:  map[string]string{"a/f": "H", "b/": ""},
			dst:  map[string]string{"a/": "", "b/f": "H"},
			want: []string{"move b/f -> a/f"},
		},
		{
			name: "directory renamed",
			src:  map[string]string{"manual/readme.txt": "v1", "manual/img/logo.png": "png"},
			dst:  map[string]string{"docs/readme.txt": "v1", "docs/img/logo.png": "png"},
			want: []string{"move docs -> manual"},
		},
		{
			name: "parent directories differ",
			src:  map[string]string{"a/f": "H"},
			dst:  map[string]string{"b/f": "H"},
			want: []string{"move b -> a"},
		},
		{
			name: "renamed directory with changed content is not a move",
			src:  map[string]string{"manual/readme.txt": "v2"},
			dst:  map[string]string{"docs/readme.txt": "v1"},
			want: []string{"delete docs", "create manual", "create manual/readme.txt"},
		},
		{
			name: "file becomes directory",
			src:  map[string]string{"x/inner.txt": "i"},
			dst:  map[string]string{"x": "file"},
			want: []string{"delete x", "create x", "create x/inner.txt"},
		},
		{
			name: "directory becomes file",
			src:  map[string]string{"x": "file"},
			dst:  map[string]string{"x/inner.txt": "i"},
			want: []string{"delete x", "create x"},
		},
		{
			name: "closest path wins",
			src:  map[string]string{"a/b/y": "H", "c/d/x": "H"},
			dst:  map[string]string{"a/b/x": "H", "c/d/": ""},
			want: []string{"move a/b/x -> a/b/y", "create c/d/x"},
		},
		{
			name: "closest path wins over shallower file",
			src:  map[string]string{"k": "H", "m/o": "H"},
			dst:  map[string]string{"m/n": "H"},
			want: []string{"create k", "move m/n -> m/o"},
		},
		{
			name: "equal distance falls back to destination path",
			src:  map[string]string{"a/f": "H", "c/g": "H"},
			dst:  map[string]string{"a/g": "H", "c/": ""},
			want: []string{"move a/g -> a/f", "create c/g"},
		},
		{
			name: "directory hollowed by an earlier move is not moved",
			src:  map[string]string{"q/f1": "one", "r/f2": "two", "r/q/f1": "one"},
			dst:  map[string]string{"p/q/f1": "one", "p/f2": "two"},
			want: []string{
				"delete p",
				"move p/q -> q",
				"create r",
				"move p/f2 -> r/f2",
				"create r/q",
				"create r/q/f1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, sb := build(t, "/src", tt.src)
			dst, _ := build(t, "/dst", tt.dst)

			actions := Diff(src, dst, sb)
			assert.Equal(t, tt.want, describe(actions))
			for _, a := range actions {
				if a.Type == action.Create || a.Type == action.Update {
					assert.Equal(t, sb, a.Source.Backend)
					assert.Equal(t, a.Path, a.Source.Path)
				}
			}
		})
	}
}

func TestDiffDirectoryMoveCarriesDescendants(t *testing.T) {
	src, sb := build(t, "/src", map[string]string{"manual/readme.txt": "v1", "manual/img/logo.png": "png"})
	dst, _ := build(t, "/dst", map[string]string{"docs/readme.txt": "v1", "docs/img/logo.png": "png"})

	actions := Diff(src, dst, sb)
	require.Len(t, actions, 1)
	mv := actions[0]
	assert.Equal(t, "docs", mv.From)
	assert.Equal(t, "manual", mv.To)
	assert.True(t, mv.IsDirectory())

	var paths []string
	for _, e := range mv.Descendants {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"manual/img", "manual/img/logo.png", "manual/readme.txt"}, paths)
}

func TestDiffWeakFingerprintsNeverMove(t *testing.T) {
	mod := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	weak := snapshot.WeakFingerprint(3, mod)
	src := snapshot.New("src",
		snapshot.Entry{Path: "a", Kind: backend.File, Size: 3, ModTime: mod, Fingerprint: weak},
	)
	dst := snapshot.New("dst",
		snapshot.Entry{Path: "b", Kind: backend.File, Size: 3, ModTime: mod, Fingerprint: weak},
	)

	assert.Equal(t, []string{"create a", "delete b"}, describe(Diff(src, dst, nil)))
}

func TestDiffSizeMismatchNeverMoves(t *testing.T) {
	src := snapshot.New("src", snapshot.Entry{Path: "a", Kind: backend.File, Size: 3, Fingerprint: "aa"})
	dst := snapshot.New("dst", snapshot.Entry{Path: "b", Kind: backend.File, Size: 4, Fingerprint: "aa"})

	assert.Equal(t, []string{"create a", "delete b"}, describe(Diff(src, dst, nil)))
}

func TestDiffDeterministic(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files["src/"+name] = "same"
	}
	src, sb := build(t, "/src", map[string]string{"x/1": "same", "x/2": "same", "y/1": "same"})
	dst, _ := build(t, "/dst", files)

	first := describe(Diff(src, dst, sb))
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, describe(Diff(src, dst, sb)))
	}
}

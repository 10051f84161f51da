// Package testutil builds in-memory trees for package tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/crustasync/pkg/backend/local"
)

// MemTree creates files under root on a fresh MemMapFs. Keys ending in "/"
// become empty directories.
func MemTree(t *testing.T, root string, files map[string]string) (*local.Backend, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	WriteTree(t, fs, root, files)
	return local.NewWithFs(fs, root), fs
}

// WriteTree writes files under root on fs.
func WriteTree(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(root, 0755))
	for path, contents := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if strings.HasSuffix(path, "/") {
			require.NoError(t, fs.MkdirAll(full, 0755))
			continue
		}
		require.NoError(t, fs.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, afero.WriteFile(fs, full, []byte(contents), 0644))
	}
}

// ReadTree returns every file under root keyed by slash path, and every
// directory with a trailing "/".
func ReadTree(t *testing.T, fs afero.Fs, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			out[rel+"/"] = ""
			return nil
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

// Keys returns the sorted keys of a tree map.
func Keys(tree map[string]string) []string {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

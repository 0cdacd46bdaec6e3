package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemTraversal(t *testing.T) {
	tempDir := t.TempDir()

	outsideFile := filepath.Join(filepath.Dir(tempDir), "outside.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("secret"), 0644))
	defer os.Remove(outsideFile)

	fs := NewFileSystem(tempDir)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"normal path", "test.txt", true},
		{"subdirectory", "subdir/test.txt", true},
		{"parent traversal", "../test.txt", false},
		{"complex traversal", "subdir/../../test.txt", false},
		{"absolute path", "/etc/passwd", false},
		{"hidden traversal", "subdir/../../../etc/passwd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fs.Save(ctx, tt.path, []byte("test"))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFileSystemRoundTrip(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, "cache/responses/abc.json", []byte(`{"x":1}`)))

	data, err := fs.Load(ctx, "cache/responses/abc.json")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(data))

	matches, err := fs.List(ctx, "cache/responses/*.json")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, fs.Delete(ctx, "cache/responses/abc.json"))
	_, err = fs.Load(ctx, "cache/responses/abc.json")
	assert.Error(t, err)
}

func TestRunPath(t *testing.T) {
	p := RunPath("82f06b15-0000-4000-8000-000000000000", "The Winter Draft!")
	assert.True(t, strings.HasPrefix(p, "runs/"))
	assert.Contains(t, p, "the-winter-draft")
	assert.Contains(t, p, "82f06b15")
}

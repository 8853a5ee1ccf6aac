package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFiles(t *testing.T) {
	tmpDir := t.TempDir()

	//   tmpDir/
	//     file1.txt
	//     file2.txt
	//     subdir/
	//       file3.txt
	//       file4.log
	//     emptydir/
	//     symlink.txt -> file1.txt
	file1 := filepath.Join(tmpDir, "file1.txt")
	file2 := filepath.Join(tmpDir, "file2.txt")
	subdir := filepath.Join(tmpDir, "subdir")
	file3 := filepath.Join(subdir, "file3.txt")
	file4 := filepath.Join(subdir, "file4.log")

	require.NoError(t, os.WriteFile(file1, []byte("content1"), 0o644))
	require.NoError(t, os.WriteFile(file2, []byte("content2"), 0o644))
	require.NoError(t, os.Mkdir(subdir, 0o755))
	require.NoError(t, os.WriteFile(file3, []byte("content3"), 0o644))
	require.NoError(t, os.WriteFile(file4, []byte("content4"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "emptydir"), 0o755))
	require.NoError(t, os.Symlink(file1, filepath.Join(tmpDir, "symlink.txt")))

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{
			name:     "single file pattern",
			patterns: []string{file1},
			want:     []string{file1},
		},
		{
			name:     "wildcard skips symlinks",
			patterns: []string{filepath.Join(tmpDir, "*.txt")},
			want:     []string{file1, file2},
		},
		{
			name:     "recursive pattern",
			patterns: []string{filepath.Join(tmpDir, "**/*.txt")},
			want:     []string{file1, file2, file3},
		},
		{
			name:     "overlapping patterns return each file once",
			patterns: []string{filepath.Join(tmpDir, "**/*.log"), filepath.Join(tmpDir, "subdir", "*")},
			want:     []string{file4, file3},
		},
		{
			name:     "directories are not returned",
			patterns: []string{filepath.Join(tmpDir, "*dir")},
			want:     nil,
		},
		{
			name:     "no matches",
			patterns: []string{filepath.Join(tmpDir, "*.csv")},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindFiles(tt.patterns...)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFindFiles_InvalidPattern(t *testing.T) {
	_, err := FindFiles("[")
	require.Error(t, err)
}

func TestReadLines_Basic(t *testing.T) {
	tmpDir := t.TempDir()
	fpath := filepath.Join(tmpDir, "test.txt")
	content := strings.Join([]string{"first line", "second line", "third line"}, "\n") + "\n"
	require.NoError(t, os.WriteFile(fpath, []byte(content), 0o644))

	lines, err := ReadLines(fpath)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	for i, expected := range []string{"first line", "second line", "third line"} {
		require.Equal(t, fpath, lines[i].Filename)
		require.Equal(t, i+1, lines[i].Number)
		require.Equal(t, expected, lines[i].Text)
	}
}

func TestReadLines_SmallBufferFails(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "long.txt")
	require.NoError(t, os.WriteFile(fpath, []byte(strings.Repeat("a", 1024)+"\n"), 0o644))

	_, err := ReadLines(fpath, 64)
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	a := filepath.Join(tmpDir, "a.txt")
	b := filepath.Join(tmpDir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("one\ntwo\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("three\n"), 0o644))

	values, err := Load([]string{filepath.Join(tmpDir, "*.txt")}, "")
	require.NoError(t, err)
	require.Equal(t, []any{"one", "two", "three"}, values)

	records, err := Load([]string{b}, FormatRecords)
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"file": b, "line": 1.0, "text": "three"}}, records)
}

func TestLoad_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Load([]string{filepath.Join(tmpDir, "*.txt")}, FormatLines)
	require.ErrorContains(t, err, "no input files")

	_, err = Load([]string{filepath.Join(tmpDir, "*.txt")}, "csv")
	require.ErrorContains(t, err, "unknown input format")
}

// Package input loads the collections the CLI runs pipelines over.
package input

import (
	"bufio"
	"fmt"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultBufferSize = 1024 * 1024 // 1MB
)

const (
	FormatLines   = "lines"
	FormatRecords = "records"
)

type Line struct {
	Filename string
	Number   int
	Text     string
}

// FindFiles expands doublestar patterns to the regular files they match.
// Each file is returned once, in pattern order.
func FindFiles(patterns ...string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() && !slices.Contains(files, name) {
				files = append(files, name)
			}
		}
	}
	return files, nil
}

func ReadLines(filePath string, bufferSize ...int) ([]Line, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if len(bufferSize) == 0 {
		bufferSize = []int{DefaultBufferSize}
	}
	buffer := make([]byte, bufferSize[0])

	scanner := bufio.NewScanner(file)
	scanner.Buffer(buffer, bufferSize[0])

	var lines []Line
	for i := 1; scanner.Scan(); i++ {
		lines = append(lines, Line{
			Filename: filePath,
			Number:   i,
			Text:     scanner.Text(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// Load reads every line of the files matched by patterns into a collection.
// FormatLines yields the line text; FormatRecords yields a map with the
// file, line number and text.
func Load(patterns []string, format string) ([]any, error) {
	if format == "" {
		format = FormatLines
	}
	if format != FormatLines && format != FormatRecords {
		return nil, fmt.Errorf("unknown input format %q", format)
	}

	files, err := FindFiles(patterns...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files match %v", patterns)
	}

	values := []any{}
	for _, file := range files {
		lines, err := ReadLines(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for _, line := range lines {
			values = append(values, line.value(format))
		}
	}
	return values, nil
}

func (l Line) value(format string) any {
	if format == FormatRecords {
		return map[string]any{
			"file": l.Filename,
			"line": float64(l.Number),
			"text": l.Text,
		}
	}
	return l.Text
}

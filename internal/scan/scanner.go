// Package scan walks a directory of generated test files and extracts the
// step-labelled code fragments the duplicate detector consumes. Parsing is
// parallel per file; results are re-ordered deterministically before they
// reach grouping, since grouping is order-dependent.
package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lessonbase/llkb/internal/detect"
)

// testFileSuffixes names the generated test files worth scanning.
var testFileSuffixes = []string{
	".spec.ts", ".test.ts", ".spec.js", ".test.js",
	".spec.tsx", ".test.tsx", ".spec.jsx", ".test.jsx",
}

const (
	journeyMarker = "// journey:"
	stepMarker    = "// step:"
)

// IsTestFile reports whether a filename looks like a generated test file.
func IsTestFile(name string) bool {
	for _, suffix := range testFileSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Scan walks root, parses every test file in parallel, and returns the
// fragments sorted by (file, start line). The sort makes the output
// independent of walk and goroutine scheduling order.
func Scan(ctx context.Context, root string) ([]detect.Fragment, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == "node_modules" || strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if IsTestFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	var mu sync.Mutex
	var fragments []detect.Fragment

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			frags, err := ParseFile(path)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
			mu.Lock()
			fragments = append(fragments, frags...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(fragments, func(i, j int) bool {
		if fragments[i].File != fragments[j].File {
			return fragments[i].File < fragments[j].File
		}
		return fragments[i].StartLine < fragments[j].StartLine
	})
	return fragments, nil
}

// ParseFile extracts the step-labelled fragments of one test file.
//
// A "// journey: <id>" comment sets the journey for everything below it.
// A "// step: <label>" comment opens a fragment that runs until the next
// blank line, the next marker, or end of file.
func ParseFile(path string) ([]detect.Fragment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(path, f)
}

func parse(path string, r io.Reader) ([]detect.Fragment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var fragments []detect.Fragment
	var journeyID string

	var stepLabel string
	var lines []string
	var startLine int
	lineNo := 0

	flush := func(endLine int) {
		if stepLabel == "" || len(lines) == 0 {
			stepLabel, lines = "", nil
			return
		}
		fragments = append(fragments, detect.Fragment{
			File:      path,
			JourneyID: journeyID,
			StepLabel: stepLabel,
			Code:      strings.Join(lines, "\n"),
			StartLine: startLine,
			EndLine:   endLine,
		})
		stepLabel, lines = "", nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, journeyMarker):
			flush(lineNo - 1)
			journeyID = strings.TrimSpace(trimmed[len(journeyMarker):])
		case strings.HasPrefix(trimmed, stepMarker):
			flush(lineNo - 1)
			stepLabel = strings.TrimSpace(trimmed[len(stepMarker):])
			startLine = lineNo + 1
		case trimmed == "":
			flush(lineNo - 1)
		case stepLabel != "":
			lines = append(lines, line)
		}
	}
	flush(lineNo)

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fragments, nil
}

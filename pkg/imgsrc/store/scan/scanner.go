// Package scan walks the content store roots and hands each stored object or
// leftover staging file to a Processor.
package scan

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
	"github.com/tendant/imgsrc/pkg/imgsrc/store"
)

// Entry is one file found in a store root.
type Entry struct {
	Root      store.Root
	Name      string
	Path      string
	Size      int64
	ModTime   time.Time
	Staging   bool
	Algorithm signature.Algorithm // empty for staging entries
	Digest    string              // empty for staging entries
	Extension string
}

// Scanner lists store roots and processes their entries.
type Scanner struct {
	store *store.Store
}

// New creates a new Scanner instance.
func New(st *store.Store) *Scanner {
	return &Scanner{store: st}
}

// Options configures the scan operation.
type Options struct {
	// Processor defines the processing logic (required unless DryRun is true)
	Processor Processor

	// IncludeStaging also reports tmp-* staging files
	IncludeStaging bool

	// DryRun if true, doesn't process entries, just reports what would be processed
	DryRun bool

	// Out receives dry-run and error lines (default: io.Discard)
	Out io.Writer

	// OnProgress is called after each root is processed (optional)
	OnProgress func(processed, total int64)
}

// Result contains statistics about the scan operation.
type Result struct {
	TotalFound     int64
	TotalProcessed int64
	TotalFailed    int64
	TotalSkipped   int64 // files that are neither objects nor staging files

	// FailedPaths contains the paths of entries that failed processing
	FailedPaths []string
}

// Scan processes every entry of every root. A failing entry is recorded and
// the scan continues; context cancellation stops it.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("processor is required when DryRun is false")
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	for _, root := range s.store.Roots() {
		entries, err := os.ReadDir(root.Dir)
		if err != nil {
			return result, fmt.Errorf("failed to list %s: %w", root.Dir, err)
		}

		for _, de := range entries {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if !de.Type().IsRegular() {
				continue
			}

			entry, ok := newEntry(root, de)
			if !ok || (entry.Staging && !opts.IncludeStaging) {
				result.TotalSkipped++
				continue
			}
			result.TotalFound++

			if opts.DryRun {
				fmt.Fprintf(out, "[DRY-RUN] Would process: %s (root=%q, size=%d)\n", entry.Path, root.Index, entry.Size)
				result.TotalProcessed++
				continue
			}

			if err := opts.Processor.Process(ctx, entry); err != nil {
				result.TotalFailed++
				result.FailedPaths = append(result.FailedPaths, entry.Path)
				fmt.Fprintf(out, "[ERROR] Failed to process %s: %v\n", entry.Path, err)
				continue
			}
			result.TotalProcessed++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(result.TotalProcessed+result.TotalFailed, result.TotalFound)
		}
	}

	return result, nil
}

func newEntry(root store.Root, de os.DirEntry) (Entry, bool) {
	info, err := de.Info()
	if err != nil {
		return Entry{}, false
	}
	entry := Entry{
		Root:    root,
		Name:    de.Name(),
		Path:    filepath.Join(root.Dir, de.Name()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	if store.IsStagingName(entry.Name) {
		entry.Staging = true
		entry.Extension = strings.TrimPrefix(filepath.Ext(entry.Name), ".")
		return entry, true
	}

	algo, digest, ext, ok := store.ParseObjectName(entry.Name)
	if !ok {
		return Entry{}, false
	}
	entry.Algorithm, entry.Digest, entry.Extension = algo, digest, ext
	return entry, true
}

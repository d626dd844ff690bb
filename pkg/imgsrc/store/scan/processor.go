package scan

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/tendant/imgsrc/pkg/imgsrc/sniff"
)

// Processor handles individual entries found during a scan.
//
// Example implementations:
//   - Mirror backfill (pushes existing objects to the S3 mirror)
//   - Staging sweeper (removes staging files left by crashed uploads)
type Processor interface {
	// Process is called for each entry found during scan.
	// Return error to mark this entry as failed (scan continues with next entry).
	Process(ctx context.Context, entry Entry) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(context.Context, Entry) error

func (f ProcessorFunc) Process(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

// Mirror is the subset of the S3 mirror used for backfill.
type Mirror interface {
	Put(ctx context.Context, index, name, localPath, contentType string) (string, error)
}

// MirrorProcessor pushes stored objects to m. Staging entries are skipped.
func MirrorProcessor(m Mirror) Processor {
	return ProcessorFunc(func(ctx context.Context, entry Entry) error {
		if entry.Staging {
			return nil
		}
		contentType := sniff.FromExtension(entry.Extension).ContentType()
		_, err := m.Put(ctx, entry.Root.Index, entry.Name, entry.Path, contentType)
		return err
	})
}

// StagingSweeper removes staging files last modified more than maxAge before
// now(). Stored objects are left alone.
func StagingSweeper(maxAge time.Duration, now func() time.Time) Processor {
	if now == nil {
		now = time.Now
	}
	return ProcessorFunc(func(_ context.Context, entry Entry) error {
		if !entry.Staging || now().Sub(entry.ModTime) < maxAge {
			return nil
		}
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

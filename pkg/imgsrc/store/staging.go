package store

import (
	"errors"
	"os"

	"github.com/tendant/imgsrc/pkg/imgsrc/sniff"
)

// Staging is an in-flight upload owned by a single request.
type Staging struct {
	root    Root
	path    string
	file    *os.File
	format  sniff.Format
	written int64
	done    bool
}

// Write appends p to the staging file.
func (st *Staging) Write(p []byte) (int, error) {
	if st.file == nil {
		return 0, os.ErrClosed
	}
	n, err := st.file.Write(p)
	st.written += int64(n)
	return n, err
}

// SetFormat records the format detected from the stream; Finalize uses it
// to pick the object extension.
func (st *Staging) SetFormat(f sniff.Format) {
	st.format = f
}

// Path returns the staging file path.
func (st *Staging) Path() string {
	return st.path
}

// Abandon closes and removes the staging file. It is a no-op once the file
// has been finalized, so callers can defer it unconditionally.
func (st *Staging) Abandon() error {
	if st.done {
		return nil
	}
	st.done = true

	closeErr := st.close()
	if err := os.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return closeErr
}

func (st *Staging) close() error {
	if st.file == nil {
		return nil
	}
	err := st.file.Close()
	st.file = nil
	return err
}

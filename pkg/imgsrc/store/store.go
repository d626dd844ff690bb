// Package store persists uploads under content-addressed names. Bytes are
// streamed into a staging file next to their destination, then the staging
// file is hashed and atomically renamed to <digest>.<ext>.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/imgsrc/pkg/imgsrc"
	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
	"github.com/tendant/imgsrc/pkg/imgsrc/sniff"
)

const (
	dirMode  = 0755
	fileMode = 0644

	stagingPrefix = "tmp-"

	// MaxFilenameLength is the longest accepted client filename in bytes.
	// The staging name adds "tmp-", a nonce of up to 20 digits and possibly a
	// UUID, and must stay within the common 255-byte name limit.
	MaxFilenameLength = 255 - len(stagingPrefix) - 20 - 1 - 36 - 1
)

// Config options for the content store
type Config struct {
	DefaultDir string            // Directory used when no index is requested
	Dirs       map[string]string // Additional directories keyed by index
	Algorithm  signature.Algorithm
	Logger     *slog.Logger
}

// Root is one destination directory. Index is empty for the default root.
type Root struct {
	Index string
	Dir   string
}

// Store is a filesystem content-addressed object store spanning one or more
// destination roots.
type Store struct {
	defaultRoot Root
	roots       map[string]Root
	algorithm   signature.Algorithm
	logger      *slog.Logger
}

// New validates the configuration and creates every root directory.
func New(config Config) (*Store, error) {
	if config.DefaultDir == "" {
		return nil, errors.New("default directory is required")
	}

	algo := config.Algorithm
	if algo == "" {
		algo = signature.SHA1
	}
	if !algo.Valid() {
		return nil, fmt.Errorf("unsupported digest algorithm: %s", algo)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		defaultRoot: Root{Dir: config.DefaultDir},
		roots:       make(map[string]Root, len(config.Dirs)),
		algorithm:   algo,
		logger:      logger,
	}
	for index, dir := range config.Dirs {
		if index == "" || dir == "" {
			return nil, fmt.Errorf("invalid directory mapping %q=%q", index, dir)
		}
		s.roots[index] = Root{Index: index, Dir: dir}
	}

	for _, root := range s.Roots() {
		if err := os.MkdirAll(root.Dir, dirMode); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", root.Dir, err)
		}
	}

	return s, nil
}

// Root resolves a destination index. The empty index is the default root.
func (s *Store) Root(index string) (Root, error) {
	if index == "" {
		return s.defaultRoot, nil
	}
	root, ok := s.roots[index]
	if !ok {
		return Root{}, fmt.Errorf("%w: %s", imgsrc.ErrUnknownDirIndex, index)
	}
	return root, nil
}

// Roots returns the default root followed by indexed roots in index order.
func (s *Store) Roots() []Root {
	out := []Root{s.defaultRoot}
	indexes := make([]string, 0, len(s.roots))
	for index := range s.roots {
		indexes = append(indexes, index)
	}
	sort.Strings(indexes)
	for _, index := range indexes {
		out = append(out, s.roots[index])
	}
	return out
}

// Algorithm returns the digest algorithm used for object names.
func (s *Store) Algorithm() signature.Algorithm {
	return s.algorithm
}

// ValidateFilename rejects client filenames that could escape the root.
func ValidateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", imgsrc.ErrInvalidFilename, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", imgsrc.ErrInvalidFilename, name)
	case len(name) > MaxFilenameLength:
		return fmt.Errorf("%w: longer than %d bytes", imgsrc.ErrInvalidFilename, MaxFilenameLength)
	}
	return nil
}

// BeginStaging creates root/tmp-<nonce>-<clientFilename> for writing. If a
// concurrent upload already holds that name, a UUID is added to it.
func (s *Store) BeginStaging(root Root, clientFilename string, n uint64) (*Staging, error) {
	if err := ValidateFilename(clientFilename); err != nil {
		return nil, err
	}

	base := stagingPrefix + strconv.FormatUint(n, 10) + "-"
	path := filepath.Join(root.Dir, base+clientFilename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if errors.Is(err, os.ErrExist) {
		path = filepath.Join(root.Dir, base+uuid.NewString()+"-"+clientFilename)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	}
	if err != nil {
		return nil, &imgsrc.StorageError{Op: "create", Path: path, Err: err}
	}

	s.logger.Debug("Staging file created", "path", path)

	return &Staging{root: root, path: path, file: f}, nil
}

// Finalize closes the staging file, hashes it and renames it to its
// content-addressed name. An existing object with the same name is replaced;
// equal names imply equal content.
func (s *Store) Finalize(ctx context.Context, st *Staging) (*Object, error) {
	if st.done {
		return nil, errors.New("staging file already finalized or abandoned")
	}
	ext := st.format.Extension()
	if ext == "" {
		return nil, fmt.Errorf("%w: %s", imgsrc.ErrUnsupportedFormat, st.format)
	}

	if err := st.close(); err != nil {
		return nil, &imgsrc.StorageError{Op: "close", Path: st.path, Err: err}
	}

	f, err := os.Open(st.path)
	if err != nil {
		return nil, &imgsrc.StorageError{Op: "open", Path: st.path, Err: err}
	}
	digest, err := s.algorithm.DigestOf(f)
	f.Close()
	if err != nil {
		return nil, &imgsrc.StorageError{Op: "digest", Path: st.path, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := s.algorithm.ObjectName(digest, ext)
	finalPath := filepath.Join(filepath.Dir(st.path), name)

	s.logger.Debug("Renaming staging file", "old_path", st.path, "new_path", finalPath)

	if err := os.Rename(st.path, finalPath); err != nil {
		return nil, &imgsrc.StorageError{Op: "rename", Path: finalPath, Err: err}
	}
	st.done = true

	return &Object{
		Root:      st.root,
		Name:      name,
		Path:      finalPath,
		Digest:    digest,
		Algorithm: s.algorithm,
		Extension: ext,
		Format:    st.format,
		Size:      st.written,
	}, nil
}

// Object describes a finalized, content-addressed file.
type Object struct {
	Root      Root
	Name      string
	Path      string
	Digest    string
	Algorithm signature.Algorithm
	Extension string
	Format    sniff.Format
	Size      int64
}

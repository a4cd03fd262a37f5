package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/seidata/curator/pkg/log"
)

const (
	// ExtSource is the submitted StationXML artifact.
	ExtSource = ".xml"

	// ExtConverted is the converter's derived binary form.
	ExtConverted = ".converted"

	// ExtPrototype is the extension prototype blobs are stored under.
	ExtPrototype = ".stationxml"

	// prototypeDir is the child directory holding network prototypes.
	prototypeDir = "prototypes"

	// inventoryDir is the child directory holding merged inventories.
	inventoryDir = "inventory"
)

// knownExtensions are the derived forms swept by Remove.
var knownExtensions = []string{ExtSource, ExtConverted}

// Store is a content-addressed artifact store on the local filesystem.
// Artifacts live at <root>/<network-code>/<station>/<hash>.<ext>; writes
// are atomic and a second write of the same hash is a no-op.
type Store struct {
	root   string
	logger zerolog.Logger
}

// NewStore creates the blob store rooted at root.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Store{
		root:   root,
		logger: log.WithComponent("blob"),
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the content-addressed path prefix for an artifact,
// relative to the store root. Extensions are implicit.
func (s *Store) Path(networkCode, station, hash string) string {
	return filepath.Join(networkCode, station, hash)
}

// Abs resolves a path prefix plus extension to an absolute file path.
func (s *Store) Abs(path, ext string) string {
	return filepath.Join(s.root, path+ext)
}

// PrototypePath returns the path prefix for a prototype blob.
func (s *Store) PrototypePath(hash string) string {
	return filepath.Join(prototypeDir, hash)
}

// InventoryPath returns the absolute path of the merged full inventory
// artifact for a node.
func (s *Store) InventoryPath(nodeID string) string {
	return filepath.Join(s.root, inventoryDir, nodeID+"-full-inventory.xml")
}

// Put stores data under (networkCode, station, hash) and returns the
// path prefix. Writing the same hash twice is a no-op.
func (s *Store) Put(networkCode, station, hash string, data []byte) (string, error) {
	path := s.Path(networkCode, station, hash)
	if err := s.WriteAtomic(path, ExtSource, data); err != nil {
		return "", err
	}
	return path, nil
}

// PutPrototype stores a prototype blob keyed by hash.
func (s *Store) PutPrototype(hash string, data []byte) (string, error) {
	path := s.PrototypePath(hash)
	if err := s.WriteAtomic(path, ExtPrototype, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteAtomic streams data to a temporary sibling file and renames it
// into place. An existing file of the same name is left untouched.
func (s *Store) WriteAtomic(path, ext string, data []byte) error {
	target := s.Abs(path, ext)

	if _, err := os.Stat(target); err == nil {
		// Content-addressed: same name means same bytes.
		s.logger.Debug().Str("path", target).Msg("blob already present, skipping write")
		return nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temporary blob: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temporary blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename blob into place: %w", err)
	}
	return nil
}

// Open returns a reader over the artifact at path with the given
// extension.
func (s *Store) Open(path, ext string) (io.ReadCloser, error) {
	f, err := os.Open(s.Abs(path, ext))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Read returns the artifact bytes at path with the given extension.
func (s *Store) Read(path, ext string) ([]byte, error) {
	data, err := os.ReadFile(s.Abs(path, ext))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Exists reports whether the artifact file is present.
func (s *Store) Exists(path, ext string) bool {
	_, err := os.Stat(s.Abs(path, ext))
	return err == nil
}

// Remove deletes all known extensions of the artifact at path. The
// caller is responsible for checking that no live index record still
// references the hash.
func (s *Store) Remove(path string) error {
	for _, ext := range knownExtensions {
		target := s.Abs(path, ext)
		if err := os.Remove(target); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to remove blob %s: %w", target, err)
		}
		s.logger.Debug().Str("path", target).Msg("removed blob")
	}
	return nil
}

// Package scratch implements the scoped on-disk bucket of transient
// intermediate files the delta-chain reconstructor (package delta) uses
// while materializing revisions. Entries are sharded into 256
// subdirectories to keep directory fan-out bounded, mirroring
// rcowham/gitp4transfer's own getBlobIDPath sharding in main.go.
package scratch

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kunom/tfs2git/blockstream"
)

const shardCount = 256

// Store is a scoped directory tree of named temporary files. The zero value
// is not usable; construct with New.
type Store struct {
	location string
	mu       sync.Mutex
	shards   map[int]string
}

// New acquires location as the store's root. If location already exists,
// the constructor rejects it unless clearIfExisting is set, in which case
// the existing tree is wiped and recreated. If location is empty, a
// process-unique directory is created under os.TempDir.
func New(location string, clearIfExisting bool) (*Store, error) {
	if location != "" {
		if _, err := os.Stat(location); err == nil {
			if !clearIfExisting {
				return nil, fmt.Errorf("scratch directory %q already exists", location)
			}
			if err := os.RemoveAll(location); err != nil {
				return nil, fmt.Errorf("clearing existing scratch directory: %w", err)
			}
			time.Sleep(time.Second)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := os.MkdirAll(location, 0o755); err != nil {
			return nil, fmt.Errorf("creating scratch directory: %w", err)
		}
	} else {
		dir, err := os.MkdirTemp("", "tfs2git-scratch-")
		if err != nil {
			return nil, err
		}
		location = dir
	}
	return &Store{location: location, shards: make(map[int]string)}, nil
}

// Cleanup removes the store's root directory in full. Safe to call even if
// some shard subdirectories were never created.
func (s *Store) Cleanup() error {
	return os.RemoveAll(s.location)
}

func shardKey(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % shardCount)
}

// path resolves name to its sharded location, creating the shard directory
// on first use. name must not contain "..".
func (s *Store) path(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("name %q must not contain parent dir navigation", name)
	}
	key := shardKey(name)

	s.mu.Lock()
	dir, ok := s.shards[key]
	if !ok {
		dir = filepath.Join(s.location, fmt.Sprintf("%02X", key))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.mu.Unlock()
			return "", err
		}
		s.shards[key] = dir
	}
	s.mu.Unlock()

	return filepath.Join(dir, name), nil
}

// Exists reports whether name has already been created in the store.
func (s *Store) Exists(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Create writes a new file named name, draining blocks into it if given,
// and returns its full path.
func (s *Store) Create(name string, blocks blockstream.Stream) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if blocks == nil {
		return p, nil
	}
	for {
		block, err := blocks.NextBlock()
		if len(block) > 0 {
			if _, werr := f.Write(block); werr != nil {
				return "", werr
			}
		}
		if err == io.EOF {
			return p, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// Remove deletes name without reading it back.
func (s *Store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Read streams name back in blockSize chunks, optionally deleting it once
// fully drained.
func (s *Store) Read(name string, blockSize int, deleteAfter bool) (blockstream.Stream, error) {
	if blockSize <= 0 {
		blockSize = 1000000
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return &fileStream{f: f, path: p, blockSize: blockSize, deleteAfter: deleteAfter}, nil
}

type fileStream struct {
	f           *os.File
	path        string
	blockSize   int
	deleteAfter bool
	done        bool
}

func (fs *fileStream) LenHint() int {
	info, err := fs.f.Stat()
	if err != nil {
		return -1
	}
	return int(info.Size())
}

func (fs *fileStream) NextBlock() ([]byte, error) {
	if fs.done {
		return nil, io.EOF
	}
	buf := make([]byte, fs.blockSize)
	n, err := fs.f.Read(buf)
	if n > 0 {
		if err == nil {
			return buf[:n], nil
		}
	}
	if err == io.EOF || (err == nil && n == 0) {
		fs.done = true
		fs.f.Close()
		if fs.deleteAfter {
			os.Remove(fs.path)
		}
		if n > 0 {
			return buf[:n], nil
		}
		return nil, io.EOF
	}
	if err != nil {
		fs.done = true
		fs.f.Close()
		return buf[:n], err
	}
	return buf[:n], nil
}

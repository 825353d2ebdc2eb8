package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store is a directory-backed build cache. Entries are keyed by an expanded
// key string; each declared path is saved and restored as a directory tree.
// Restore tolerates missing or stale entries and save overwrites without
// locking.
type Store struct {
	root string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// ExpandKey substitutes $VAR and ${VAR} references from env (KEY=VALUE pairs)
// into a cache key template. Unknown variables expand to the empty string.
func ExpandKey(key string, env []string) string {
	lookup := make(map[string]string, len(env))
	for _, kv := range env {
		if idx := strings.Index(kv, "="); idx != -1 {
			lookup[kv[:idx]] = kv[idx+1:]
		}
	}
	expanded := os.Expand(key, func(name string) string {
		return lookup[name]
	})
	return sanitizeKey(expanded)
}

// Restore copies the cached trees for key into workdir. A missing entry is a
// no-op.
func (s *Store) Restore(key string, paths []string, workdir string) error {
	for _, p := range paths {
		src := s.entryPath(key, p)
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat cache entry %q: %w", src, err)
		}
		dst := filepath.Join(workdir, filepath.FromSlash(p))
		if err := copyTree(src, dst); err != nil {
			return fmt.Errorf("restore cache %q: %w", p, err)
		}
	}
	return nil
}

// Save copies the declared trees from workdir into the cache, replacing any
// previous entry for key.
func (s *Store) Save(key string, paths []string, workdir string) error {
	for _, p := range paths {
		src := filepath.Join(workdir, filepath.FromSlash(p))
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %q: %w", src, err)
		}
		dst := s.entryPath(key, p)
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("clear cache entry %q: %w", dst, err)
		}
		if err := copyTree(src, dst); err != nil {
			return fmt.Errorf("save cache %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) entryPath(key, declared string) string {
	return filepath.Join(s.root, key, sanitizeKey(declared))
}

func sanitizeKey(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_", "..", "_")
	out := replacer.Replace(strings.TrimSpace(s))
	if out == "" {
		return "default"
	}
	return out
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Symlinks and devices are not cached.
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

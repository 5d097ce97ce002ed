package fsutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CopyDir copies the tree at src to dst. dst must not exist yet.
func CopyDir(src, dst string) error {
	if Exists(dst) {
		return fmt.Errorf("copy %s: destination %s already exists", src, dst)
	}
	return CopyContents(src, dst)
}

// CopyContents copies the tree at src into dst, creating dst if needed and
// overwriting files that exist in both.
func CopyContents(src, dst string) error {
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

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Fingerprint hashes the relative paths and contents of every regular file
// below dir, each prefixed with its length. Two trees with equal fingerprints
// hold the same files.
func Fingerprint(dir string) (uint64, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	h := xxhash.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return 0, err
		}
		name := filepath.ToSlash(rel)
		writeLen(h, uint64(len(name)))
		_, _ = h.WriteString(name)

		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, err
		}
		writeLen(h, uint64(info.Size()))
		n, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			return 0, err
		}
		if n != info.Size() {
			return 0, fmt.Errorf("fingerprint %s: file changed while hashing", path)
		}
	}
	return h.Sum64(), nil
}

// writeLen frames the next field so that paths and contents cannot run into
// each other.
func writeLen(h *xxhash.Digest, n uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	_, _ = h.Write(buf[:])
}

// SameTree reports whether two directories hold identical files. Both trees
// are hashed concurrently.
func SameTree(a, b string) (bool, error) {
	var (
		g      errgroup.Group
		fa, fb uint64
	)
	g.Go(func() (err error) {
		fa, err = Fingerprint(a)
		return err
	})
	g.Go(func() (err error) {
		fb, err = Fingerprint(b)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	return fa == fb, nil
}

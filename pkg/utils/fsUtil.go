package utils

import (
	"io"
	"os"
	"path/filepath"
)

// CopyTree copies a file or directory tree from src to dst, returning the
// file count. When h is non-nil every copied file's content is also written
// through it so the caller gets a stable content digest (walk order is
// lexical, hence deterministic). A missing src is not an error: it copies
// nothing.
func CopyTree(src, dst string, h io.Writer) (int, error) {
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		if err := copyFile(src, dst, info.Mode(), h); err != nil {
			return 0, err
		}
		return 1, nil
	}

	files := 0
	err = filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil // skip sockets, symlinks etc.
		}
		files++
		return copyFile(path, target, fi.Mode(), h)
	})
	return files, err
}

func copyFile(src, dst string, mode os.FileMode, h io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	var w io.Writer = out
	if h != nil {
		w = io.MultiWriter(out, h)
	}
	if _, err := io.Copy(w, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

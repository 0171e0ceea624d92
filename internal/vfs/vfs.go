// Package vfs provides a root-sandboxed filesystem helper: every path is
// resolved relative to a fixed root and rejected if it would escape it.
// No other package in this repository imports it; the orchestrator and the
// reference processor plugins use the os package directly.
package vfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// VFS is a filesystem rooted at a specific directory.
type VFS struct {
	root     string
	readonly bool
}

// New initializes a VFS with the given root directory, creating it if absent.
func New(root string, readonly bool) (*VFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	return &VFS{root: abs, readonly: readonly}, nil
}

// Root returns the absolute root path.
func (v *VFS) Root() string { return v.root }

// IsReadOnly reports whether writes are rejected.
func (v *VFS) IsReadOnly() bool { return v.readonly }

func (v *VFS) resolve(parts ...string) (string, error) {
	rel := filepath.Join(parts...)
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", rel)
	}
	abs := filepath.Clean(filepath.Join(v.root, rel))
	if !strings.HasPrefix(abs, v.root) {
		return "", fmt.Errorf("path outside root: %s", rel)
	}
	return abs, nil
}

// Path returns the absolute path for the given relative parts.
func (v *VFS) Path(parts ...string) (string, error) { return v.resolve(parts...) }

func (v *VFS) Read(parts ...string) ([]byte, error) {
	path, err := v.resolve(parts...)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (v *VFS) Write(content []byte, parts ...string) error {
	if v.readonly {
		return fmt.Errorf("vfs is read-only")
	}
	path, err := v.resolve(parts...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(path, content, 0644)
}

func (v *VFS) Exists(parts ...string) bool {
	path, err := v.resolve(parts...)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (v *VFS) Delete(parts ...string) error {
	if v.readonly {
		return fmt.Errorf("vfs is read-only")
	}
	path, err := v.resolve(parts...)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (v *VFS) List(parts ...string) ([]os.DirEntry, error) {
	path, err := v.resolve(parts...)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(path)
}

// Move relocates a file within the VFS, creating the destination directory
// if needed.
func (v *VFS) Move(srcParts, dstParts []string) error {
	if v.readonly {
		return fmt.Errorf("vfs is read-only")
	}
	src, err := v.resolve(srcParts...)
	if err != nil {
		return err
	}
	dst, err := v.resolve(dstParts...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// Copy duplicates a file within the VFS.
func (v *VFS) Copy(srcParts, dstParts []string) error {
	if v.readonly {
		return fmt.Errorf("vfs is read-only")
	}
	src, err := v.resolve(srcParts...)
	if err != nil {
		return err
	}
	dst, err := v.resolve(dstParts...)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (v *VFS) Mkdir(parts ...string) error {
	if v.readonly {
		return fmt.Errorf("vfs is read-only")
	}
	path, err := v.resolve(parts...)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0755)
}

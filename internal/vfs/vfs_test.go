package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	v, err := New(root, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(v.Root()); err != nil {
		t.Errorf("expected root to be created: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	v, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.Write([]byte("hello"), "sub", "file.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v.Read("sub", "file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected hello, got %s", got)
	}
	if !v.Exists("sub", "file.txt") {
		t.Errorf("expected file to exist")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	v, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := v.Path("..", "..", "etc", "passwd"); err == nil {
		t.Fatal("expected traversal attempt to be rejected")
	}
	if err := v.Write([]byte("x"), "..", "escape.txt"); err == nil {
		t.Fatal("expected write traversal attempt to be rejected")
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	v, err := New(t.TempDir(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.Write([]byte("x"), "a.txt"); err == nil {
		t.Fatal("expected write to be rejected on read-only vfs")
	}
	if err := v.Delete("a.txt"); err == nil {
		t.Fatal("expected delete to be rejected on read-only vfs")
	}
	if err := v.Mkdir("sub"); err == nil {
		t.Fatal("expected mkdir to be rejected on read-only vfs")
	}
}

func TestMoveRelocatesFile(t *testing.T) {
	v, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.Write([]byte("data"), "in", "a.txt")
	if err := v.Move([]string{"in", "a.txt"}, []string{"out", "a.txt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Exists("in", "a.txt") {
		t.Errorf("expected source to be gone after move")
	}
	if !v.Exists("out", "a.txt") {
		t.Errorf("expected destination to exist after move")
	}
}

func TestCopyDuplicatesFile(t *testing.T) {
	v, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.Write([]byte("data"), "in", "a.txt")
	if err := v.Copy([]string{"in", "a.txt"}, []string{"out", "a.txt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Exists("in", "a.txt") {
		t.Errorf("expected source to remain after copy")
	}
	if !v.Exists("out", "a.txt") {
		t.Errorf("expected destination to exist after copy")
	}
}

func TestListReturnsEntries(t *testing.T) {
	v, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.Write([]byte("1"), "dir", "a.txt")
	v.Write([]byte("2"), "dir", "b.txt")
	entries, err := v.List("dir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

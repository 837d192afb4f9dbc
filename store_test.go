package lantern

import (
	"errors"
	"testing"
	"time"
)

func directoriesUnderTest(t *testing.T) map[string]Directory {
	t.Helper()
	fs, err := OpenFSDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFSDirectory() error = %v", err)
	}
	return map[string]Directory{
		"ram": NewRAMDirectory(),
		"fs":  fs,
	}
}

// TestDirectoryReadWrite tests the basic write/read/list/delete cycle on
// both directory implementations
func TestDirectoryReadWrite(t *testing.T) {
	for name, dir := range directoriesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			out, err := dir.CreateOutput("a.bin")
			if err != nil {
				t.Fatalf("CreateOutput() error = %v", err)
			}
			payload := []byte("segment bytes")
			if err := out.WriteBytes(payload); err != nil {
				t.Fatalf("WriteBytes() error = %v", err)
			}
			if err := out.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			length, err := dir.FileLength("a.bin")
			if err != nil {
				t.Fatalf("FileLength() error = %v", err)
			}
			if length != int64(len(payload)) {
				t.Errorf("FileLength() = %d, want %d", length, len(payload))
			}

			in, err := dir.OpenInput("a.bin")
			if err != nil {
				t.Fatalf("OpenInput() error = %v", err)
			}
			got := make([]byte, len(payload))
			if err := in.ReadBytes(got); err != nil {
				t.Fatalf("ReadBytes() error = %v", err)
			}
			if string(got) != string(payload) {
				t.Errorf("ReadBytes() = %q, want %q", got, payload)
			}
			in.Close()

			names, err := dir.ListAll()
			if err != nil {
				t.Fatalf("ListAll() error = %v", err)
			}
			if len(names) != 1 || names[0] != "a.bin" {
				t.Errorf("ListAll() = %v, want [a.bin]", names)
			}

			if err := dir.RenameFile("a.bin", "b.bin"); err != nil {
				t.Fatalf("RenameFile() error = %v", err)
			}
			exists, _ := dir.FileExists("a.bin")
			if exists {
				t.Error("a.bin still exists after rename")
			}
			exists, _ = dir.FileExists("b.bin")
			if !exists {
				t.Error("b.bin missing after rename")
			}

			if err := dir.DeleteFile("b.bin"); err != nil {
				t.Fatalf("DeleteFile() error = %v", err)
			}
			exists, _ = dir.FileExists("b.bin")
			if exists {
				t.Error("b.bin still exists after delete")
			}
		})
	}
}

// TestInputClone tests that clones carry independent cursors
func TestInputClone(t *testing.T) {
	for name, dir := range directoriesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			out, _ := dir.CreateOutput("c.bin")
			out.WriteBytes([]byte{1, 2, 3, 4, 5})
			out.Close()

			in, err := dir.OpenInput("c.bin")
			if err != nil {
				t.Fatalf("OpenInput() error = %v", err)
			}
			defer in.Close()

			b0, _ := in.ReadByte()
			if b0 != 1 {
				t.Fatalf("ReadByte() = %d, want 1", b0)
			}

			clone := in.Clone()
			b1, _ := clone.ReadByte()
			if b1 != 2 {
				t.Errorf("clone ReadByte() = %d, want 2", b1)
			}
			clone.Seek(4)
			b4, _ := clone.ReadByte()
			if b4 != 5 {
				t.Errorf("clone ReadByte() after Seek = %d, want 5", b4)
			}

			// The original is unaffected by the clone's movement.
			b1, _ = in.ReadByte()
			if b1 != 2 {
				t.Errorf("original ReadByte() = %d, want 2", b1)
			}
		})
	}
}

// TestOutputSeekPatchesHeader tests seeking back to patch a written header
func TestOutputSeekPatchesHeader(t *testing.T) {
	for name, dir := range directoriesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			out, _ := dir.CreateOutput("d.bin")
			writeInt32(out, 0) // placeholder
			out.WriteBytes([]byte("body"))
			if err := out.Seek(0); err != nil {
				t.Fatalf("Seek() error = %v", err)
			}
			writeInt32(out, 42)
			if err := out.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			in, _ := dir.OpenInput("d.bin")
			defer in.Close()
			if in.Length() != 8 {
				t.Errorf("Length() = %d, want 8", in.Length())
			}
			got, _ := readInt32(in)
			if got != 42 {
				t.Errorf("patched header = %d, want 42", got)
			}
			body := make([]byte, 4)
			in.ReadBytes(body)
			if string(body) != "body" {
				t.Errorf("body = %q, want %q", body, "body")
			}
		})
	}
}

// TestLockExclusion tests that a held lock blocks a second holder
func TestLockExclusion(t *testing.T) {
	for name, dir := range directoriesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			l1 := dir.MakeLock(WriteLockName)
			if err := l1.Obtain(0); err != nil {
				t.Fatalf("Obtain() error = %v", err)
			}

			l2 := dir.MakeLock(WriteLockName)
			err := l2.Obtain(10 * time.Millisecond)
			if !errors.Is(err, ErrLockObtainFailed) {
				t.Errorf("second Obtain() error = %v, want ErrLockObtainFailed", err)
			}

			if err := l1.Release(); err != nil {
				t.Fatalf("Release() error = %v", err)
			}
			if err := l2.Obtain(0); err != nil {
				t.Errorf("Obtain() after release error = %v", err)
			}
			l2.Release()
		})
	}
}

package lantern

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Directory abstracts the storage layer: a flat namespace of byte streams
// with atomic rename and advisory locking. The index never touches the file
// system directly; everything goes through a Directory so tests and the
// in-memory document buffer can share the exact same write path.
type Directory interface {
	// ListAll returns the names of all files in the directory.
	ListAll() ([]string, error)

	// FileExists reports whether a file with the given name exists.
	FileExists(name string) (bool, error)

	// FileLength returns the length of the named file in bytes.
	FileLength(name string) (int64, error)

	// DeleteFile removes the named file.
	DeleteFile(name string) error

	// CreateOutput creates a new file and returns a stream to write it.
	// An existing file with the same name is truncated.
	CreateOutput(name string) (IndexOutput, error)

	// OpenInput opens an existing file for random-access reads.
	OpenInput(name string) (IndexInput, error)

	// RenameFile atomically renames a file, replacing any existing target.
	RenameFile(from, to string) error

	// MakeLock returns a handle for the named advisory lock.
	MakeLock(name string) Lock

	// Close releases resources held by the directory.
	Close() error
}

// IndexInput is a random-access read stream over one file. Clones share the
// underlying file but carry an independent position, so one open file can
// back many concurrent cursors.
type IndexInput interface {
	// ReadByte reads and returns a single byte.
	ReadByte() (byte, error)

	// ReadBytes fills b entirely, or fails.
	ReadBytes(b []byte) error

	// Seek positions the stream at pos, measured from the file start.
	Seek(pos int64) error

	// FilePointer returns the current position.
	FilePointer() int64

	// Length returns the total file length in bytes.
	Length() int64

	// Clone returns an independent cursor over the same file. Clones must
	// not be used after the original is closed.
	Clone() IndexInput

	// Close releases the stream. Closing a clone is a no-op.
	Close() error
}

// IndexOutput is a sequential write stream with the ability to seek back,
// used to patch headers after the body length is known.
type IndexOutput interface {
	// WriteByte writes a single byte.
	WriteByte(b byte) error

	// WriteBytes writes b entirely.
	WriteBytes(b []byte) error

	// FilePointer returns the current write position.
	FilePointer() int64

	// Seek repositions the stream. Everything written so far is flushed.
	Seek(pos int64) error

	// Close flushes and releases the stream.
	Close() error
}

// Lock is an advisory lock in a Directory. At most one holder at a time;
// Obtain polls until the timeout expires.
type Lock interface {
	// Obtain acquires the lock, polling for up to timeout. A zero timeout
	// makes a single attempt. Fails with ErrLockObtainFailed on expiry.
	Obtain(timeout time.Duration) error

	// Release drops the lock. Releasing an unheld lock is a no-op.
	Release() error
}

// lockPollInterval is how often Obtain retries while waiting for a lock.
const lockPollInterval = 50 * time.Millisecond

// FSDirectory is the file-system backed Directory.
type FSDirectory struct {
	path string
}

// Compile-time check to ensure FSDirectory implements Directory
var _ Directory = (*FSDirectory)(nil)

// OpenFSDirectory opens (creating if necessary) a directory at path.
//
// Parameters:
//   - path: File-system path of the index directory
//
// Returns:
//   - *FSDirectory: The opened directory
//   - error: Error if the directory cannot be created
func OpenFSDirectory(path string) (*FSDirectory, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FSDirectory{path: path}, nil
}

func (d *FSDirectory) ListAll() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *FSDirectory) FileExists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(d.path, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *FSDirectory) FileLength(name string) (int64, error) {
	info, err := os.Stat(filepath.Join(d.path, name))
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return info.Size(), nil
}

func (d *FSDirectory) DeleteFile(name string) error {
	if err := os.Remove(filepath.Join(d.path, name)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

func (d *FSDirectory) CreateOutput(name string) (IndexOutput, error) {
	f, err := os.Create(filepath.Join(d.path, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return &fsIndexOutput{file: f}, nil
}

func (d *FSDirectory) OpenInput(name string) (IndexInput, error) {
	f, err := os.Open(filepath.Join(d.path, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return &fsIndexInput{file: f, length: info.Size(), owner: true}, nil
}

func (d *FSDirectory) RenameFile(from, to string) error {
	if err := os.Rename(filepath.Join(d.path, from), filepath.Join(d.path, to)); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (d *FSDirectory) MakeLock(name string) Lock {
	return &fsLock{path: filepath.Join(d.path, name)}
}

func (d *FSDirectory) Close() error { return nil }

// fsLock is a lock file created with O_EXCL. The process id is written into
// the file to make stale locks diagnosable.
type fsLock struct {
	path string
	file *os.File
}

func (l *fsLock) Obtain(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			l.file = f
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s held by another process", ErrLockObtainFailed, l.path)
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *fsLock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	l.file = nil
	return nil
}

// fsInputBufferSize is the read buffer per input cursor.
const fsInputBufferSize = 1024

// fsIndexInput reads through ReadAt so clones can share one *os.File while
// keeping independent positions and buffers.
type fsIndexInput struct {
	file   *os.File
	length int64
	owner  bool // only the original closes the file

	buf      [fsInputBufferSize]byte
	bufStart int64 // file offset of buf[0]
	bufLen   int   // valid bytes in buf
	pos      int64 // logical read position
}

func (in *fsIndexInput) ReadByte() (byte, error) {
	if in.pos < in.bufStart || in.pos >= in.bufStart+int64(in.bufLen) {
		if err := in.refill(); err != nil {
			return 0, err
		}
	}
	b := in.buf[in.pos-in.bufStart]
	in.pos++
	return b, nil
}

func (in *fsIndexInput) refill() error {
	if in.pos >= in.length {
		return io.EOF
	}
	n, err := in.file.ReadAt(in.buf[:], in.pos)
	if n == 0 && err != nil {
		return err
	}
	in.bufStart = in.pos
	in.bufLen = n
	return nil
}

func (in *fsIndexInput) ReadBytes(b []byte) error {
	for len(b) > 0 {
		if in.pos >= in.bufStart && in.pos < in.bufStart+int64(in.bufLen) {
			off := int(in.pos - in.bufStart)
			n := copy(b, in.buf[off:in.bufLen])
			in.pos += int64(n)
			b = b[n:]
			continue
		}
		// Large reads bypass the buffer.
		if len(b) >= fsInputBufferSize {
			n, err := in.file.ReadAt(b, in.pos)
			in.pos += int64(n)
			if err != nil && n < len(b) {
				return err
			}
			return nil
		}
		if err := in.refill(); err != nil {
			return err
		}
	}
	return nil
}

func (in *fsIndexInput) Seek(pos int64) error {
	if pos < 0 || pos > in.length {
		return fmt.Errorf("%w: seek to %d in file of length %d", ErrCorruptIndex, pos, in.length)
	}
	in.pos = pos
	return nil
}

func (in *fsIndexInput) FilePointer() int64 { return in.pos }
func (in *fsIndexInput) Length() int64      { return in.length }

func (in *fsIndexInput) Clone() IndexInput {
	return &fsIndexInput{file: in.file, length: in.length, pos: in.pos}
}

func (in *fsIndexInput) Close() error {
	if !in.owner {
		return nil
	}
	return in.file.Close()
}

// fsIndexOutput buffers writes and supports seeking back to patch headers.
type fsIndexOutput struct {
	file *os.File
	buf  []byte
	pos  int64 // position of buf start in the file
}

func (out *fsIndexOutput) WriteByte(b byte) error {
	out.buf = append(out.buf, b)
	if len(out.buf) >= 8192 {
		return out.flush()
	}
	return nil
}

func (out *fsIndexOutput) WriteBytes(b []byte) error {
	out.buf = append(out.buf, b...)
	if len(out.buf) >= 8192 {
		return out.flush()
	}
	return nil
}

func (out *fsIndexOutput) FilePointer() int64 { return out.pos + int64(len(out.buf)) }

func (out *fsIndexOutput) flush() error {
	if len(out.buf) == 0 {
		return nil
	}
	if _, err := out.file.WriteAt(out.buf, out.pos); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	out.pos += int64(len(out.buf))
	out.buf = out.buf[:0]
	return nil
}

func (out *fsIndexOutput) Seek(pos int64) error {
	if err := out.flush(); err != nil {
		return err
	}
	out.pos = pos
	return nil
}

func (out *fsIndexOutput) Close() error {
	if err := out.flush(); err != nil {
		out.file.Close()
		return err
	}
	return out.file.Close()
}

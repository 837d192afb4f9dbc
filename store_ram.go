package lantern

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RAMDirectory is an in-memory Directory. The writer stages buffered
// documents in one, and tests use it to exercise the full read/write path
// without touching disk. Byte streams are interchangeable with FSDirectory:
// a segment written here and copied file-for-file to disk reads back
// identically.
type RAMDirectory struct {
	mu    sync.RWMutex
	files map[string]*ramFile
	locks map[string]bool
}

// Compile-time check to ensure RAMDirectory implements Directory
var _ Directory = (*RAMDirectory)(nil)

type ramFile struct {
	data []byte
}

// NewRAMDirectory creates an empty in-memory directory.
func NewRAMDirectory() *RAMDirectory {
	return &RAMDirectory{
		files: make(map[string]*ramFile),
		locks: make(map[string]bool),
	}
}

func (d *RAMDirectory) ListAll() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *RAMDirectory) FileExists(name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.files[name]
	return ok, nil
}

func (d *RAMDirectory) FileLength(name string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.files[name]
	if !ok {
		return 0, fmt.Errorf("file %s does not exist", name)
	}
	return int64(len(f.data)), nil
}

func (d *RAMDirectory) DeleteFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; !ok {
		return fmt.Errorf("file %s does not exist", name)
	}
	delete(d.files, name)
	return nil
}

func (d *RAMDirectory) CreateOutput(name string) (IndexOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := &ramFile{}
	d.files[name] = f
	return &ramIndexOutput{dir: d, file: f}, nil
}

func (d *RAMDirectory) OpenInput(name string) (IndexInput, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("file %s does not exist", name)
	}
	return &ramIndexInput{data: f.data}, nil
}

func (d *RAMDirectory) RenameFile(from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[from]
	if !ok {
		return fmt.Errorf("file %s does not exist", from)
	}
	d.files[to] = f
	delete(d.files, from)
	return nil
}

func (d *RAMDirectory) MakeLock(name string) Lock {
	return &ramLock{dir: d, name: name}
}

func (d *RAMDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = make(map[string]*ramFile)
	return nil
}

type ramLock struct {
	dir  *RAMDirectory
	name string
	held bool
}

func (l *ramLock) Obtain(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		l.dir.mu.Lock()
		if !l.dir.locks[l.name] {
			l.dir.locks[l.name] = true
			l.held = true
			l.dir.mu.Unlock()
			return nil
		}
		l.dir.mu.Unlock()
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockObtainFailed, l.name)
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *ramLock) Release() error {
	if !l.held {
		return nil
	}
	l.dir.mu.Lock()
	delete(l.dir.locks, l.name)
	l.dir.mu.Unlock()
	l.held = false
	return nil
}

type ramIndexInput struct {
	data []byte
	pos  int64
}

func (in *ramIndexInput) ReadByte() (byte, error) {
	if in.pos >= int64(len(in.data)) {
		return 0, fmt.Errorf("%w: read past end of file", ErrCorruptIndex)
	}
	b := in.data[in.pos]
	in.pos++
	return b, nil
}

func (in *ramIndexInput) ReadBytes(b []byte) error {
	if in.pos+int64(len(b)) > int64(len(in.data)) {
		return fmt.Errorf("%w: read past end of file", ErrCorruptIndex)
	}
	copy(b, in.data[in.pos:])
	in.pos += int64(len(b))
	return nil
}

func (in *ramIndexInput) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(in.data)) {
		return fmt.Errorf("%w: seek to %d in file of length %d", ErrCorruptIndex, pos, len(in.data))
	}
	in.pos = pos
	return nil
}

func (in *ramIndexInput) FilePointer() int64 { return in.pos }
func (in *ramIndexInput) Length() int64      { return int64(len(in.data)) }

func (in *ramIndexInput) Clone() IndexInput {
	return &ramIndexInput{data: in.data, pos: in.pos}
}

func (in *ramIndexInput) Close() error { return nil }

type ramIndexOutput struct {
	dir  *RAMDirectory
	file *ramFile
	pos  int64
}

func (out *ramIndexOutput) WriteByte(b byte) error {
	return out.WriteBytes([]byte{b})
}

func (out *ramIndexOutput) WriteBytes(b []byte) error {
	out.dir.mu.Lock()
	defer out.dir.mu.Unlock()
	end := out.pos + int64(len(b))
	if end > int64(len(out.file.data)) {
		grown := make([]byte, end)
		copy(grown, out.file.data)
		out.file.data = grown
	}
	copy(out.file.data[out.pos:], b)
	out.pos = end
	return nil
}

func (out *ramIndexOutput) FilePointer() int64 { return out.pos }

func (out *ramIndexOutput) Seek(pos int64) error {
	out.pos = pos
	return nil
}

func (out *ramIndexOutput) Close() error { return nil }

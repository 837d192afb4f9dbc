package lantern

import (
	"errors"
	"testing"
)

// TestSegmentInfosRoundtrip tests manifest write/read including the
// checksum
func TestSegmentInfosRoundtrip(t *testing.T) {
	dir := NewRAMDirectory()

	infos := NewSegmentInfos()
	infos.Counter = 3
	infos.Segments = []*SegmentInfo{
		{Name: "_0", DocCount: 5, DelGen: -1, Dir: dir},
		{Name: "_1", DocCount: 2, DelGen: 2, Dir: dir},
	}
	if err := infos.Write(dir); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if infos.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", infos.Generation)
	}
	exists, _ := dir.FileExists("segments_1")
	if !exists {
		t.Fatal("segments_1 not written")
	}

	got, err := ReadCurrentSegmentInfos(dir)
	if err != nil {
		t.Fatalf("ReadCurrentSegmentInfos() error = %v", err)
	}
	if got.Counter != 3 || len(got.Segments) != 2 {
		t.Fatalf("read counter/segments = %d/%d, want 3/2", got.Counter, len(got.Segments))
	}
	if got.Segments[1].Name != "_1" || got.Segments[1].DelGen != 2 || got.Segments[1].DocCount != 2 {
		t.Errorf("segment 1 = %+v", got.Segments[1])
	}
}

// TestSegmentInfosChecksumMismatch tests that a flipped byte is detected
func TestSegmentInfosChecksumMismatch(t *testing.T) {
	dir := NewRAMDirectory()
	infos := NewSegmentInfos()
	infos.Segments = []*SegmentInfo{{Name: "_0", DocCount: 1, DelGen: -1, Dir: dir}}
	if err := infos.Write(dir); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Flip a byte in the middle of the manifest.
	in, _ := dir.OpenInput("segments_1")
	data := make([]byte, in.Length())
	in.ReadBytes(data)
	in.Close()
	data[6] ^= 0xFF
	out, _ := dir.CreateOutput("segments_1")
	out.WriteBytes(data)
	out.Close()

	_, err := readSegmentInfos(dir, 1)
	if !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("readSegmentInfos() error = %v, want ErrCorruptIndex", err)
	}
}

// TestGenerationDiscovery tests the segments.gen fallback to a directory
// listing (spec scenario: the hint file is missing)
func TestGenerationDiscovery(t *testing.T) {
	dir := NewRAMDirectory()
	infos := NewSegmentInfos()
	infos.Segments = []*SegmentInfo{{Name: "_0", DocCount: 4, DelGen: -1, Dir: dir}}
	infos.Write(dir)
	infos.Write(dir) // generation 2

	if err := dir.DeleteFile(segmentsGenFile); err != nil {
		t.Fatalf("DeleteFile(segments.gen) error = %v", err)
	}

	got, err := ReadCurrentSegmentInfos(dir)
	if err != nil {
		t.Fatalf("ReadCurrentSegmentInfos() error = %v", err)
	}
	if got.Generation != 2 {
		t.Errorf("Generation = %d, want 2", got.Generation)
	}
	if len(got.Segments) != 1 || got.Segments[0].DocCount != 4 {
		t.Errorf("segments = %+v", got.Segments)
	}
}

// TestGenerationNames tests base-36 manifest naming
func TestGenerationNames(t *testing.T) {
	tests := []struct {
		gen  int64
		name string
	}{
		{0, "segments"},
		{1, "segments_1"},
		{10, "segments_a"},
		{36, "segments_10"},
	}
	for _, tt := range tests {
		if got := segmentsFileName(tt.gen); got != tt.name {
			t.Errorf("segmentsFileName(%d) = %q, want %q", tt.gen, got, tt.name)
		}
		if got := generationFromName(tt.name); got != tt.gen {
			t.Errorf("generationFromName(%q) = %d, want %d", tt.name, got, tt.gen)
		}
	}
	if got := generationFromName("write.lock"); got != -1 {
		t.Errorf("generationFromName(write.lock) = %d, want -1", got)
	}
}

// TestStaleGenFileFallsBack tests recovery when segments.gen points at a
// generation that no longer exists
func TestStaleGenFileFallsBack(t *testing.T) {
	dir := NewRAMDirectory()
	infos := NewSegmentInfos()
	infos.Segments = []*SegmentInfo{{Name: "_0", DocCount: 1, DelGen: -1, Dir: dir}}
	infos.Write(dir)

	// Point the hint at a missing generation.
	writeGenFile(dir, 99)

	got, err := ReadCurrentSegmentInfos(dir)
	if err != nil {
		t.Fatalf("ReadCurrentSegmentInfos() error = %v", err)
	}
	if got.Generation != 1 {
		t.Errorf("Generation = %d, want 1", got.Generation)
	}
}

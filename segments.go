package lantern

import (
	"fmt"
	"strconv"
	"strings"
)

// The commit manifest. segments_<gen> (generation in base-36) records the
// live segments of one generation:
//
//	Int32  format        (negative magic, currently -9)
//	Int64  version       (monotone across commits)
//	Int32  nameCounter
//	Int32  segmentCount
//	per segment: String name, Int32 docCount, Int64 delGen
//	Int64  checksum      (sum of all preceding bytes mod 2^63)
//
// The file is built in memory, checksummed, written under a temporary name
// and renamed into place: the rename is the commit point. segments.gen
// mirrors the current generation for readers that cannot list the
// directory cheaply; it is advisory and may lag.

const (
	segmentsFormat int32 = -9

	segmentsPrefix  = "segments"
	segmentsGenFile = "segments.gen"
	genFileFormat   int32 = -2

	// WriteLockName is the advisory lock serializing writers.
	WriteLockName = "write.lock"
)

// SegmentInfos is the in-memory manifest: the ordered segment list plus the
// counters a writer needs to name the next segment and generation.
type SegmentInfos struct {
	FormatVersion int32
	Version       int64
	Counter       int32
	Generation    int64 // generation this state was read from, -1 if none
	Segments      []*SegmentInfo
}

// NewSegmentInfos returns an empty manifest for a fresh index.
func NewSegmentInfos() *SegmentInfos {
	return &SegmentInfos{FormatVersion: segmentsFormat, Generation: -1}
}

// segmentsFileName returns the manifest name for a generation. Generation
// zero is the pre-2.1 single-file layout.
func segmentsFileName(gen int64) string {
	if gen <= 0 {
		return segmentsPrefix
	}
	return segmentsPrefix + "_" + strconv.FormatInt(gen, 36)
}

// generationFromName parses a manifest file name, -1 if it is not one.
func generationFromName(name string) int64 {
	if name == segmentsPrefix {
		return 0
	}
	if !strings.HasPrefix(name, segmentsPrefix+"_") {
		return -1
	}
	gen, err := strconv.ParseInt(name[len(segmentsPrefix)+1:], 36, 64)
	if err != nil || gen <= 0 {
		return -1
	}
	return gen
}

// currentGeneration picks the largest committed generation from a listing.
func currentGeneration(files []string) int64 {
	gen := int64(-1)
	for _, f := range files {
		if g := generationFromName(f); g > gen {
			gen = g
		}
	}
	return gen
}

// readGenFile returns the generation recorded in segments.gen, -1 when the
// file is missing or unreadable. It is a hint only.
func readGenFile(dir Directory) int64 {
	in, err := dir.OpenInput(segmentsGenFile)
	if err != nil {
		return -1
	}
	defer in.Close()
	format, err := readInt32(in)
	if err != nil || format != genFileFormat {
		return -1
	}
	gen0, err := readInt64(in)
	if err != nil {
		return -1
	}
	gen1, err := readInt64(in)
	if err != nil || gen0 != gen1 {
		return -1
	}
	return gen0
}

// ReadCurrentSegmentInfos locates and reads the current manifest: first via
// the segments.gen hint, then by listing the directory and taking the
// largest generation. A directory with no manifest yields Generation -1.
func ReadCurrentSegmentInfos(dir Directory) (*SegmentInfos, error) {
	if gen := readGenFile(dir); gen >= 0 {
		infos, err := readSegmentInfos(dir, gen)
		if err == nil {
			return infos, nil
		}
		// Stale or torn hint: fall through to the directory listing.
	}
	files, err := dir.ListAll()
	if err != nil {
		return nil, err
	}
	gen := currentGeneration(files)
	if gen < 0 {
		return NewSegmentInfos(), nil
	}
	return readSegmentInfos(dir, gen)
}

func readSegmentInfos(dir Directory, gen int64) (*SegmentInfos, error) {
	name := segmentsFileName(gen)
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	sum := newChecksumInput(in)
	infos := &SegmentInfos{Generation: gen}
	if infos.FormatVersion, err = readInt32(sum); err != nil {
		return nil, err
	}
	if infos.FormatVersion != segmentsFormat {
		return nil, fmt.Errorf("%w: unsupported segments format %d", ErrCorruptIndex, infos.FormatVersion)
	}
	if infos.Version, err = readInt64(sum); err != nil {
		return nil, err
	}
	if infos.Counter, err = readInt32(sum); err != nil {
		return nil, err
	}
	count, err := readInt32(sum)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative segment count %d", ErrCorruptIndex, count)
	}
	for i := int32(0); i < count; i++ {
		si := &SegmentInfo{Dir: dir}
		if si.Name, err = readString(sum); err != nil {
			return nil, err
		}
		if si.DocCount, err = readInt32(sum); err != nil {
			return nil, err
		}
		if si.DelGen, err = readInt64(sum); err != nil {
			return nil, err
		}
		infos.Segments = append(infos.Segments, si)
	}
	want := sum.sum
	got, err := readInt64(in)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%w: segments file checksum %d, computed %d", ErrCorruptIndex, got, want)
	}
	return infos, nil
}

// Write commits the manifest as the next generation: temp file, then atomic
// rename, then the best-effort segments.gen update.
func (infos *SegmentInfos) Write(dir Directory) error {
	gen := infos.Generation + 1
	if gen < 1 {
		gen = 1
	}
	infos.Version++

	buf := &bufferOutput{}
	if err := writeInt32(buf, segmentsFormat); err != nil {
		return err
	}
	if err := writeInt64(buf, infos.Version); err != nil {
		return err
	}
	if err := writeInt32(buf, infos.Counter); err != nil {
		return err
	}
	if err := writeInt32(buf, int32(len(infos.Segments))); err != nil {
		return err
	}
	for _, si := range infos.Segments {
		if err := writeString(buf, si.Name); err != nil {
			return err
		}
		if err := writeInt32(buf, si.DocCount); err != nil {
			return err
		}
		if err := writeInt64(buf, si.DelGen); err != nil {
			return err
		}
	}
	var sum int64
	for _, b := range buf.data {
		sum = (sum + int64(b)) & checksumMask
	}
	if err := writeInt64(buf, sum); err != nil {
		return err
	}

	tmp := segmentsFileName(gen) + ".new"
	out, err := dir.CreateOutput(tmp)
	if err != nil {
		return err
	}
	if err := out.WriteBytes(buf.data); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := dir.RenameFile(tmp, segmentsFileName(gen)); err != nil {
		return err
	}
	infos.Generation = gen

	// Advisory pointer for readers; staleness is tolerated.
	writeGenFile(dir, gen)
	return nil
}

func writeGenFile(dir Directory, gen int64) {
	out, err := dir.CreateOutput(segmentsGenFile)
	if err != nil {
		return
	}
	defer out.Close()
	if err := writeInt32(out, genFileFormat); err != nil {
		return
	}
	if err := writeInt64(out, gen); err != nil {
		return
	}
	writeInt64(out, gen)
}

// NextSegmentName returns a fresh segment name from the counter.
func (infos *SegmentInfos) NextSegmentName() string {
	name := "_" + strconv.FormatInt(int64(infos.Counter), 36)
	infos.Counter++
	return name
}

// Files returns the manifest file of this generation and each segment's
// current deletion bitmap. The segments' own data files (.fnm, .tis, .frq
// and the rest) are not listed.
func (infos *SegmentInfos) Files() []string {
	files := []string{segmentsFileName(infos.Generation)}
	for _, si := range infos.Segments {
		if name := si.delFileName(); name != "" {
			files = append(files, name)
		}
	}
	return files
}

const checksumMask = int64(^uint64(0) >> 1) // mod 2^63

// checksumInput sums every byte read through it.
type checksumInput struct {
	in  IndexInput
	sum int64
}

func newChecksumInput(in IndexInput) *checksumInput {
	return &checksumInput{in: in}
}

func (c *checksumInput) ReadByte() (byte, error) {
	b, err := c.in.ReadByte()
	if err == nil {
		c.sum = (c.sum + int64(b)) & checksumMask
	}
	return b, err
}

func (c *checksumInput) ReadBytes(b []byte) error {
	if err := c.in.ReadBytes(b); err != nil {
		return err
	}
	for _, x := range b {
		c.sum = (c.sum + int64(x)) & checksumMask
	}
	return nil
}

func (c *checksumInput) Seek(pos int64) error { return fmt.Errorf("checksum input cannot seek") }
func (c *checksumInput) FilePointer() int64   { return c.in.FilePointer() }
func (c *checksumInput) Length() int64        { return c.in.Length() }
func (c *checksumInput) Clone() IndexInput    { return &checksumInput{in: c.in.Clone(), sum: c.sum} }
func (c *checksumInput) Close() error         { return nil }

// bufferOutput is an IndexOutput over a byte slice, used to assemble files
// that are checksummed or copied whole.
type bufferOutput struct {
	data []byte
	pos  int64
}

func (o *bufferOutput) WriteByte(b byte) error { return o.WriteBytes([]byte{b}) }

func (o *bufferOutput) WriteBytes(b []byte) error {
	end := o.pos + int64(len(b))
	if end > int64(len(o.data)) {
		grown := make([]byte, end)
		copy(grown, o.data)
		o.data = grown
	}
	copy(o.data[o.pos:], b)
	o.pos = end
	return nil
}

func (o *bufferOutput) FilePointer() int64 { return o.pos }

func (o *bufferOutput) Seek(pos int64) error {
	o.pos = pos
	return nil
}

func (o *bufferOutput) Close() error { return nil }

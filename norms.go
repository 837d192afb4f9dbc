package lantern

import "fmt"

// Norms: one file per (segment, indexed field), named <segment>.f<ordinal>,
// holding exactly maxDoc bytes. The byte for a document is
// encodeNorm(boost · lengthNorm(numTokens)), folding field length and boost
// into a single factor applied at score time.

// normsFileName returns the norms file for a field ordinal.
func normsFileName(segment string, fieldNum int32) string {
	return fmt.Sprintf("%s.f%d", segment, fieldNum)
}

// writeNorms stores one field's norm bytes.
func writeNorms(dir Directory, segment string, fieldNum int32, norms []byte) error {
	out, err := dir.CreateOutput(normsFileName(segment, fieldNum))
	if err != nil {
		return err
	}
	if err := out.WriteBytes(norms); err != nil {
		out.Close()
		return fmt.Errorf("failed to write norms: %w", err)
	}
	return out.Close()
}

// readNorms loads one field's norm bytes, which must be exactly maxDoc long.
func readNorms(dir Directory, segment string, fieldNum int32, maxDoc int32) ([]byte, error) {
	name := normsFileName(segment, fieldNum)
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if in.Length() != int64(maxDoc) {
		return nil, fmt.Errorf("%w: norms file %s holds %d bytes for %d docs", ErrCorruptIndex, name, in.Length(), maxDoc)
	}
	norms := make([]byte, maxDoc)
	if err := in.ReadBytes(norms); err != nil {
		return nil, err
	}
	return norms, nil
}

package lantern

import (
	"strings"
	"sync"
)

// fileDeleter removes index files no longer referenced by the current
// generation, while in-process reference counts pin the files of any open
// reader view. A file is deleted only when the committed manifest does not
// reference it and no live view holds a pin. One deleter exists per
// Directory in this process, shared by every Index opened on it, so a
// read-only view pins its generation against a concurrent writer's sweeps.
type fileDeleter struct {
	mu   sync.Mutex
	dir  Directory
	refs map[string]int
}

var fileDeleters = struct {
	sync.Mutex
	m map[Directory]*fileDeleter
}{m: make(map[Directory]*fileDeleter)}

// deleterFor returns the process-wide deleter for a directory.
func deleterFor(dir Directory) *fileDeleter {
	fileDeleters.Lock()
	defer fileDeleters.Unlock()
	d, ok := fileDeleters.m[dir]
	if !ok {
		d = &fileDeleter{dir: dir, refs: make(map[string]int)}
		fileDeleters.m[dir] = d
	}
	return d
}

// pin takes a reference on each file.
func (d *fileDeleter) pin(files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range files {
		d.refs[f]++
	}
}

// unpin drops references. Files are not removed here; the next sweep
// collects anything that became unreferenced.
func (d *fileDeleter) unpin(files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range files {
		if d.refs[f] <= 1 {
			delete(d.refs, f)
		} else {
			d.refs[f]--
		}
	}
}

// referencedFiles lists every file a manifest generation needs: the
// manifest itself, each segment's extension files, and each segment's
// current deletion bitmap.
func referencedFiles(dir Directory, infos *SegmentInfos) ([]string, error) {
	all, err := dir.ListAll()
	if err != nil {
		return nil, err
	}
	var files []string
	if infos.Generation >= 0 {
		files = append(files, segmentsFileName(infos.Generation))
	}
	for _, name := range all {
		for _, si := range infos.Segments {
			if !hasSegmentPrefix(name, si.Name) {
				continue
			}
			if strings.HasSuffix(name, ".del") {
				if name == si.delFileName() {
					files = append(files, name)
				}
			} else {
				files = append(files, name)
			}
			break
		}
	}
	return files, nil
}

// sweep deletes every index-owned file that the current generation does not
// reference and no pin protects. Lock files, segments.gen, and foreign
// files are never touched.
func (d *fileDeleter) sweep(current *SegmentInfos) error {
	keep, err := referencedFiles(d.dir, current)
	if err != nil {
		return err
	}
	keepSet := make(map[string]bool, len(keep))
	for _, f := range keep {
		keepSet[f] = true
	}

	all, err := d.dir.ListAll()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range all {
		if !isIndexFile(name) || keepSet[name] || d.refs[name] > 0 {
			continue
		}
		if err := d.dir.DeleteFile(name); err != nil {
			// A racing reader may hold the file open on platforms that
			// forbid deleting open files; retried on the next sweep.
			continue
		}
	}
	return nil
}

// isIndexFile reports whether this package owns the file name.
func isIndexFile(name string) bool {
	if name == segmentsGenFile || name == WriteLockName {
		return false
	}
	if generationFromName(name) >= 0 {
		return true
	}
	return strings.HasPrefix(name, "_") && !strings.HasSuffix(name, ".new")
}

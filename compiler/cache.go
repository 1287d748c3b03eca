package compiler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nnrt/core/rterr"
)

// manifestFileName and blob naming follow §6: "a small text manifest
// encoding a version integer and a count of blob files, followed by those
// blob files... overwritten atomically by writing manifest.tmp and
// renaming." Adapted from the teacher's DiskCache write-then-rename pattern
// (server/internal/cache/blob/cache_writer.go) down from a content-
// addressable blob store to this spec's {version, ordered blob list}
// manifest.
const manifestFileName = "manifest"

func blobFileName(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("blob-%d.bin", i))
}

// writeCache persists a PreparedModel's exported blobs under dir, tagged
// with version. It is single-writer per {dir, version}: concurrent writers
// targeting the same pair produce undefined results, which is documented as
// a client responsibility (§5).
func writeCache(dir string, version int, blobs [][]byte) error {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return rterr.New(rterr.InvalidPath, "mkdir cache dir: %v", err)
	}
	for i, b := range blobs {
		if err := os.WriteFile(blobFileName(dir, i), b, 0o666); err != nil {
			return rterr.New(rterr.InvalidFile, "write blob %d: %v", i, err)
		}
	}

	tmp := filepath.Join(dir, manifestFileName+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return rterr.New(rterr.InvalidFile, "create manifest.tmp: %v", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "version=%d\n", version)
	fmt.Fprintf(w, "count=%d\n", len(blobs))
	if err := w.Flush(); err != nil {
		f.Close()
		return rterr.New(rterr.InvalidFile, "write manifest.tmp: %v", err)
	}
	if err := f.Close(); err != nil {
		return rterr.New(rterr.InvalidFile, "close manifest.tmp: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestFileName)); err != nil {
		return rterr.New(rterr.InvalidFile, "rename manifest.tmp: %v", err)
	}
	return nil
}

// readCache reads the manifest and blob files written by writeCache. It
// fails with InvalidFile if the manifest's version does not match the
// requested version.
func readCache(dir string, version int) ([][]byte, error) {
	f, err := os.Open(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, rterr.New(rterr.InvalidFile, "open manifest: %v", err)
	}
	defer f.Close()

	var gotVersion, count int
	if _, err := fmt.Fscanf(f, "version=%d\ncount=%d\n", &gotVersion, &count); err != nil {
		return nil, rterr.New(rterr.InvalidFile, "parse manifest: %v", err)
	}
	if gotVersion != version {
		return nil, rterr.New(rterr.InvalidFile, "cache version mismatch: have %d, want %d", gotVersion, version)
	}

	blobs := make([][]byte, count)
	for i := range blobs {
		b, err := os.ReadFile(blobFileName(dir, i))
		if err != nil {
			return nil, rterr.New(rterr.InvalidFile, "read blob %d: %v", i, err)
		}
		blobs[i] = b
	}
	return blobs, nil
}

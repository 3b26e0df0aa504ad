package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string // Full filesystem path
	Filename  string // Base filename
	Size      int64  // File size in bytes
	Timestamp string // From manifest, or file mod time
	Objects   int    // From manifest
}

// List scans an archive directory and returns info about each archive,
// newest first.
func List(archiveDir string) ([]Info, error) {
	pattern := filepath.Join(archiveDir, "*"+Suffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var archives []Info
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		ai := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      fi.Size(),
			Timestamp: fi.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		}
		if m, err := ReadManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.Objects = m.Objects
		}
		archives = append(archives, ai)
	}

	// RFC3339 sorts lexically; the filename breaks ties within a second.
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].Timestamp != archives[j].Timestamp {
			return archives[i].Timestamp > archives[j].Timestamp
		}
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// walk calls fn for every member of an archive.
func walk(archivePath string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// ReadManifest extracts the manifest of an archive.
func ReadManifest(archivePath string) (*Manifest, error) {
	var m *Manifest
	err := walk(archivePath, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name != manifestName {
			return nil
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		m = &Manifest{}
		return json.Unmarshal(data, m)
	})
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", archivePath, err)
	}
	if m == nil {
		return nil, fmt.Errorf("archive: %s: manifest.json not found", archivePath)
	}
	return m, nil
}

// Extract unpacks an archive into destDir, verifying every member against
// the manifest. Members are checked after writing; on a mismatch the
// error names the first bad file.
func Extract(archivePath, destDir string) (*Manifest, error) {
	m, err := ReadManifest(archivePath)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	err = walk(archivePath, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name == manifestName {
			return nil
		}
		want, ok := m.Files[hdr.Name]
		if !ok {
			return fmt.Errorf("%s is not in the manifest", hdr.Name)
		}
		dest := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("%s escapes the destination", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		h := sha256.New()
		_, err = io.Copy(out, io.TeeReader(r, h))
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != want.SHA256 {
			return fmt.Errorf("checksum mismatch for %s", hdr.Name)
		}
		seen[hdr.Name] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: extract %s: %w", archivePath, err)
	}
	for name := range m.Files {
		if !seen[name] {
			return nil, fmt.Errorf("archive: extract %s: %s missing", archivePath, name)
		}
	}
	return m, nil
}

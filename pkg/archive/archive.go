// Package archive bundles everything a resolver deployment keeps on disk
// (world snapshot, bolt store, history log, config and object library)
// into one zstd-compressed tar with a checksummed manifest.
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
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Suffix is the file extension of archives.
const Suffix = ".tar.zst"

const manifestName = "manifest.json"

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Timestamp string               `json:"timestamp"`
	Objects   int                  `json:"objects"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "world", "bolt", "history", "conf", "lib"
}

// Params holds all inputs needed to create an archive. Empty fields are
// skipped.
type Params struct {
	WorldSnapshotFunc func(destPath string) error // Writes a world snapshot
	BoltSnapshotFunc  func(destPath string) error // Hot bolt backup
	HistoryPath       string                      // SQLite history log
	ConfPath          string                      // Config file
	LibDir            string                      // Object library root
	ArchiveDir        string                      // Output directory
	ObjectCount       int                         // Recorded in the manifest
}

// Create writes a new archive into params.ArchiveDir and returns its path.
func Create(params Params) (string, error) {
	if err := os.MkdirAll(params.ArchiveDir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", params.ArchiveDir, err)
	}
	archivePath := filepath.Join(params.ArchiveDir,
		fmt.Sprintf("archive-%s%s", time.Now().Format("20060102-150405.000"), Suffix))

	tmpDir, err := os.MkdirTemp("", "ospec-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	type staged struct{ src, name, kind string }
	var files []staged

	if params.WorldSnapshotFunc != nil {
		p := filepath.Join(tmpDir, "world.yaml.zst")
		if err := params.WorldSnapshotFunc(p); err != nil {
			return "", fmt.Errorf("archive: world snapshot: %w", err)
		}
		files = append(files, staged{p, "data/world.yaml.zst", "world"})
	}
	if params.BoltSnapshotFunc != nil {
		p := filepath.Join(tmpDir, "world.bolt")
		if err := params.BoltSnapshotFunc(p); err != nil {
			return "", fmt.Errorf("archive: bolt snapshot: %w", err)
		}
		files = append(files, staged{p, "data/world.bolt", "bolt"})
	}
	if params.HistoryPath != "" {
		files = append(files, staged{params.HistoryPath, "data/history.db", "history"})
	}
	if params.ConfPath != "" {
		if _, err := os.Stat(params.ConfPath); err == nil {
			files = append(files, staged{params.ConfPath, "conf/" + filepath.Base(params.ConfPath), "conf"})
		}
	}
	if params.LibDir != "" {
		err := filepath.WalkDir(params.LibDir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(params.LibDir, path)
			if err != nil {
				return err
			}
			files = append(files, staged{path, "lib/" + filepath.ToSlash(rel), "lib"})
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("archive: walk %s: %w", params.LibDir, err)
		}
	}

	manifest := Manifest{
		Version:   1,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Objects:   params.ObjectCount,
		Files:     make(map[string]FileEntry),
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", archivePath, err)
	}
	zw, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return "", fmt.Errorf("archive: zstd: %w", err)
	}
	tw := tar.NewWriter(zw)

	werr := func() error {
		for _, f := range files {
			entry, err := addFileToTar(tw, f.src, f.name)
			if err != nil {
				return err
			}
			entry.Type = f.kind
			manifest.Files[f.name] = entry
		}
		// The manifest goes last so it can list every member.
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return fmt.Errorf("archive: marshal manifest: %w", err)
		}
		if err := tw.WriteHeader(&tar.Header{Name: manifestName, Size: int64(len(data)), Mode: 0644, ModTime: time.Now()}); err != nil {
			return fmt.Errorf("archive: write manifest header: %w", err)
		}
		_, err = tw.Write(data)
		return err
	}()
	for _, c := range []io.Closer{tw, zw, out} {
		if err := c.Close(); err != nil && werr == nil {
			werr = err
		}
	}
	if werr != nil {
		os.Remove(archivePath)
		return "", werr
	}
	return archivePath, nil
}

// addFileToTar adds a single file to the tar archive with the given archive name,
// computing its SHA-256 while writing.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}

	archName = strings.ReplaceAll(archName, "\\", "/")
	if err := tw.WriteHeader(&tar.Header{
		Name:    archName,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: written}, nil
}

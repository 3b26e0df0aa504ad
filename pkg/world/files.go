package world

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// programOf normalizes a library path into a program name: rooted, cleaned
// and without the source suffix.
func (w *World) programOf(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return strings.TrimSuffix(p, w.suffix)
}

// diskPath maps a rooted library path onto the filesystem.
func (w *World) diskPath(p string) string {
	return filepath.Join(w.libDir, filepath.FromSlash(path.Clean("/"+p)))
}

// ExpandPath resolves p relative to actor: "~/x" is the actor's home
// directory, "~name/x" another wizard's, anything unrooted is relative to
// the actor's "cwd" property.
func (w *World) ExpandPath(actor gamedb.DBRef, p string) string {
	p = strings.TrimSpace(p)
	w.mu.RLock()
	obj, ok := w.db.Live(actor)
	w.mu.RUnlock()

	switch {
	case strings.HasPrefix(p, "~/") || p == "~":
		name := ""
		if ok {
			name = strings.ToLower(obj.Name)
		}
		return path.Clean("/w/" + name + "/" + strings.TrimPrefix(p[1:], "/"))
	case strings.HasPrefix(p, "~"):
		return path.Clean("/w/" + p[1:])
	case strings.HasPrefix(p, "/"):
		return path.Clean(p)
	}
	cwd := "/"
	if ok {
		if v, set := obj.Prop("cwd"); set && v != "" {
			cwd = v
		}
	}
	return path.Clean("/" + cwd + "/" + p)
}

// FileExists reports whether a regular file exists at library path p.
func (w *World) FileExists(p string) bool {
	if w.libDir == "" {
		return false
	}
	fi, err := os.Stat(w.diskPath(p))
	return err == nil && fi.Mode().IsRegular()
}

// ExpandGlob expands a shell pattern inside the library root. Results are
// rooted library paths of regular files.
func (w *World) ExpandGlob(pattern string) []string {
	if w.libDir == "" {
		return nil
	}
	matches, err := filepath.Glob(w.diskPath(pattern))
	if err != nil {
		return nil
	}
	root, err := filepath.Abs(w.libDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if fi, err := os.Stat(abs); err != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, "/"+filepath.ToSlash(rel))
	}
	return out
}

// ReadLines returns the lines of a library file, blank lines dropped.
func (w *World) ReadLines(p string) ([]string, error) {
	if !w.FileExists(p) {
		return nil, fmt.Errorf("%w: %s", ErrNoFile, p)
	}
	f, err := os.Open(w.diskPath(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// blueprint returns the parsed blueprint for a program, caching it until
// the library watcher sees the file change.
func (w *World) blueprint(prog string) (*ObjectSpec, error) {
	w.bpMu.Lock()
	defer w.bpMu.Unlock()
	if bp, ok := w.blueprints[prog]; ok {
		return bp, nil
	}
	file := prog + w.suffix
	if !w.FileExists(file) {
		return nil, fmt.Errorf("%w: %s", ErrNoFile, file)
	}
	data, err := os.ReadFile(w.diskPath(file))
	if err != nil {
		return nil, fmt.Errorf("world: read %s: %w", file, err)
	}
	bp, err := decodeBlueprint(data)
	if err != nil {
		return nil, fmt.Errorf("world: parse %s: %w", file, err)
	}
	w.blueprints[prog] = bp
	return bp, nil
}

// forget drops a cached blueprint.
func (w *World) forget(prog string) {
	w.bpMu.Lock()
	defer w.bpMu.Unlock()
	delete(w.blueprints, prog)
}

// LoadFromFile returns the master object for a program, loading it from
// its blueprint file when it is not in memory yet.
func (w *World) LoadFromFile(p string) (gamedb.DBRef, error) {
	prog := w.programOf(p)
	w.mu.RLock()
	ref := w.findObject(prog)
	w.mu.RUnlock()
	if ref != gamedb.Nothing {
		return ref, nil
	}

	bp, err := w.blueprint(prog)
	if err != nil {
		return gamedb.Nothing, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// Someone else may have loaded it while we parsed.
	if ref := w.findObject(prog); ref != gamedb.Nothing {
		return ref, nil
	}
	obj := bp.toObject()
	obj.DBRef = gamedb.Nothing
	obj.Program = prog
	obj.Location = gamedb.Nothing
	ref = w.db.Add(obj)
	w.persist(obj)
	log.Printf("world: loaded %s as #%d", prog, ref)
	return ref, nil
}

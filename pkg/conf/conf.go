// Package conf loads resolver configuration. Both YAML (.yaml/.yml) and a
// legacy "key value" text format are accepted.
package conf

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/ospec"
	"github.com/crystal-mush/ospec/pkg/world"
	"gopkg.in/yaml.v3"
)

// Conf holds every tunable of the resolver and its supporting stores.
type Conf struct {
	// --- Library ---
	LibDir       string `yaml:"lib_dir"`       // Root of the object library
	SourceSuffix string `yaml:"source_suffix"` // Blueprint file suffix
	WatchLib     bool   `yaml:"watch_lib"`     // Reload blueprints when they change on disk

	// --- Resolution ---
	DefaultPriorities string `yaml:"default_priorities"`
	MaxDepth          int    `yaml:"max_depth"`
	Quiet             bool   `yaml:"quiet"`

	// --- Levels ---
	Levels    map[string]int `yaml:"levels"` // OrdLevel names
	WizardMin int            `yaml:"wizard_min"`
	WizardMax int            `yaml:"wizard_max"`

	// --- Storage ---
	WorldFile string `yaml:"world_file"` // YAML world, ".zst" for compressed
	BoltPath  string `yaml:"bolt_path"`  // Persistent world + bindings, empty = in memory
	HistoryDB string `yaml:"history_db"` // SQLite resolution log, empty = disabled

	// --- Metrics ---
	MetricsAddr string `yaml:"metrics_addr"` // e.g. ":9108", empty = disabled
}

// DefaultConf returns a Conf with the stock mudlib settings.
func DefaultConf() *Conf {
	return &Conf{
		SourceSuffix:      ".yaml",
		DefaultPriorities: ospec.DefaultPriorities,
		MaxDepth:          ospec.DefaultMaxDepth,
		Levels: map[string]int{
			"mortal":     0,
			"apprentice": 1,
			"wizard":     10,
			"arch":       50,
			"god":        99,
		},
		WizardMin: 1,
		WizardMax: 99,
	}
}

// LoadConf loads a config file. Format is auto-detected by extension:
//   - .yaml / .yml  -> YAML format
//   - anything else -> legacy "key value" text
func LoadConf(path string) (*Conf, error) {
	var (
		c   *Conf
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c, err = loadYAML(path)
	default:
		c, err = loadLegacy(path)
	}
	if err != nil {
		return nil, err
	}
	c.resolvePaths(filepath.Dir(path))
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("conf: %s: %w", path, err)
	}
	return c, nil
}

func loadYAML(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conf: reading %s: %w", path, err)
	}
	c := DefaultConf()
	// Levels listed in the file replace the stock table rather than merge.
	c.Levels = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("conf: parsing YAML %s: %w", path, err)
	}
	if c.Levels == nil {
		c.Levels = DefaultConf().Levels
	}
	return c, nil
}

func loadLegacy(path string) (*Conf, error) {
	c := DefaultConf()
	if err := c.loadLegacyFile(path, 0); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conf) loadLegacyFile(path string, depth int) error {
	if depth > 10 {
		return fmt.Errorf("conf: include depth exceeded (circular include?)")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("conf: %w", err)
	}
	defer f.Close()

	baseDir := filepath.Dir(path)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, val := splitKeyVal(line)
		switch strings.ToLower(key) {
		case "include":
			inc := val
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(baseDir, inc)
			}
			if err := c.loadLegacyFile(inc, depth+1); err != nil {
				log.Printf("conf: warning: include %s: %v", val, err)
			}

		case "lib_dir":
			c.LibDir = val
		case "source_suffix":
			c.SourceSuffix = val
		case "watch_lib":
			c.WatchLib = parseBool(val)

		case "default_priorities":
			c.DefaultPriorities = val
		case "max_depth":
			c.MaxDepth = atoi(val, c.MaxDepth)
		case "quiet":
			c.Quiet = parseBool(val)

		// level <name> <ordlevel>
		case "level":
			name, num := splitKeyVal(val)
			if n, err := strconv.Atoi(num); err == nil && name != "" {
				c.Levels[strings.ToLower(name)] = n
			} else {
				log.Printf("conf: bad level directive: %s", line)
			}
		case "wizard_min":
			c.WizardMin = atoi(val, c.WizardMin)
		case "wizard_max":
			c.WizardMax = atoi(val, c.WizardMax)

		case "world_file":
			c.WorldFile = val
		case "bolt_path":
			c.BoltPath = val
		case "history_db":
			c.HistoryDB = val
		case "metrics_addr":
			c.MetricsAddr = val

		default:
			// Unknown directives silently ignored for forward compatibility
		}
	}
	return scanner.Err()
}

// resolvePaths makes relative file settings relative to the config dir.
func (c *Conf) resolvePaths(baseDir string) {
	for _, p := range []*string{&c.LibDir, &c.WorldFile, &c.BoltPath, &c.HistoryDB} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// Validate rejects settings the resolver cannot run with.
func (c *Conf) Validate() error {
	for _, ch := range c.DefaultPriorities {
		if !strings.ContainsRune(ospec.DefaultPriorities, ch) {
			return fmt.Errorf("%w: %q in default_priorities", ospec.ErrBadPriority, ch)
		}
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if c.WizardMin > c.WizardMax {
		return fmt.Errorf("wizard_min %d above wizard_max %d", c.WizardMin, c.WizardMax)
	}
	if c.SourceSuffix != "" && !strings.HasPrefix(c.SourceSuffix, ".") {
		return fmt.Errorf("source_suffix %q must start with a dot", c.SourceSuffix)
	}
	return nil
}

// WorldOptions returns the world settings.
func (c *Conf) WorldOptions() world.Options {
	return world.Options{
		LibDir:       c.LibDir,
		SourceSuffix: c.SourceSuffix,
		Levels:       c.Levels,
	}
}

// ResolverOptions returns the resolver settings; bus may be nil.
func (c *Conf) ResolverOptions(bus *events.Bus) ospec.Options {
	return ospec.Options{
		Priorities: c.DefaultPriorities,
		MaxDepth:   c.MaxDepth,
		Quiet:      c.Quiet,
		WizardMin:  c.WizardMin,
		WizardMax:  c.WizardMax,
		Bus:        bus,
	}
}

// splitKeyVal splits a line on the first whitespace (space or tab).
func splitKeyVal(line string) (string, string) {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' || line[i] == '\t' {
			return line[:i], strings.TrimSpace(line[i+1:])
		}
	}
	return line, ""
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "true" || s == "1" || s == "on"
}

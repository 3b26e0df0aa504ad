package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/crystal-mush/ospec/pkg/boltstore"
	"github.com/crystal-mush/ospec/pkg/conf"
	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
	"github.com/crystal-mush/ospec/pkg/history"
	"github.com/crystal-mush/ospec/pkg/metrics"
	"github.com/crystal-mush/ospec/pkg/ospec"
	"github.com/crystal-mush/ospec/pkg/varspace"
	"github.com/crystal-mush/ospec/pkg/world"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("OSPEC_CONF", ""), "Path to config file, .yaml or legacy text (env: OSPEC_CONF)")
	worldFile := flag.String("world", envDefault("OSPEC_WORLD", ""), "World file to load, .yaml or .yaml.zst (env: OSPEC_WORLD)")
	libDir := flag.String("lib", envDefault("OSPEC_LIB", ""), "Object library root (env: OSPEC_LIB)")
	boltPath := flag.String("bolt", envDefault("OSPEC_BOLT", ""), "bbolt file for the world and variable bindings (env: OSPEC_BOLT)")
	historyDB := flag.String("history", envDefault("OSPEC_HISTORY", ""), "SQLite file logging every resolution (env: OSPEC_HISTORY)")
	metricsAddr := flag.String("metrics", envDefault("OSPEC_METRICS", ""), "Address to serve Prometheus metrics on (env: OSPEC_METRICS)")
	actorFlag := flag.String("actor", envDefault("OSPEC_ACTOR", "1"), "Actor DBRef or player name (env: OSPEC_ACTOR)")
	priorities := flag.String("priorities", "", "Heuristic lookup order, overrides config")
	quiet := flag.Bool("quiet", os.Getenv("OSPEC_QUIET") == "true", "Swallow syntax errors (env: OSPEC_QUIET)")
	expr := flag.String("e", "", "Ospec to evaluate (non-interactive mode)")
	batch := flag.String("batch", "", "File with ospecs to evaluate (one per line, optional ' | #1 #2' expectation)")
	flag.Parse()

	// Load config if specified, otherwise use defaults
	c := conf.DefaultConf()
	if *confFile != "" {
		var err error
		c, err = conf.LoadConf(*confFile)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		log.Printf("Loaded config from %s", *confFile)
	}

	// Command-line flags override config file values
	if *worldFile != "" {
		c.WorldFile = *worldFile
	}
	if *libDir != "" {
		c.LibDir = *libDir
	}
	if *boltPath != "" {
		c.BoltPath = *boltPath
	}
	if *historyDB != "" {
		c.HistoryDB = *historyDB
	}
	if *metricsAddr != "" {
		c.MetricsAddr = *metricsAddr
	}
	if *priorities != "" {
		c.DefaultPriorities = *priorities
	}
	if *quiet {
		c.Quiet = true
	}
	if err := c.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var store *boltstore.Store
	if c.BoltPath != "" {
		var err error
		store, err = boltstore.Open(c.BoltPath)
		if err != nil {
			log.Fatalf("Error opening bolt store: %v", err)
		}
		defer store.Close()
	}

	db, err := loadDatabase(c, store)
	if err != nil {
		log.Fatalf("Error loading world: %v", err)
	}
	opts := c.WorldOptions()
	if store != nil {
		opts.Persist = store
	}
	w := world.New(db, opts)

	bus := events.NewBus()

	var hist *history.Log
	if c.HistoryDB != "" {
		hist, err = history.Open(c.HistoryDB, 5)
		if err != nil {
			log.Printf("WARNING: failed to open history database %s: %v", c.HistoryDB, err)
			hist = nil
		} else {
			defer hist.Close()
			bus.SubscribeGlobal(hist)
		}
	}

	if c.MetricsAddr != "" {
		m := metrics.New(w.Len)
		bus.SubscribeGlobal(m)
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			log.Printf("Serving metrics on %s/metrics", c.MetricsAddr)
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if c.WatchLib {
		err := w.Watch(ctx, func(prog string) {
			bus.Emit(events.Event{Type: events.EvBlueprint, Actor: gamedb.Nothing, Spec: prog})
		})
		if err != nil {
			log.Printf("WARNING: cannot watch library %s: %v", c.LibDir, err)
		}
	}

	var vars varspace.Store = varspace.NewMemory()
	if store != nil {
		vars = store
	}

	sh := &shell{
		res:        ospec.New(w, vars, c.ResolverOptions(bus)),
		w:          w,
		store:      store,
		hist:       hist,
		actor:      resolveActor(w, *actorFlag),
		priorities: c.DefaultPriorities,
		confPath:   *confFile,
		out:        os.Stdout,
		bus:        bus,
	}
	sh.watchActor()
	defer sh.close()

	if *expr != "" {
		// Single ospec mode
		sh.exec(*expr)
		return
	}

	if *batch != "" {
		f, err := os.Open(*batch)
		if err != nil {
			log.Fatalf("Error opening batch file: %v", err)
		}
		fails, err := sh.runBatch(f)
		f.Close()
		if err != nil {
			log.Fatalf("Error reading batch file: %v", err)
		}
		if fails > 0 {
			fmt.Fprintf(os.Stderr, "%d failure(s)\n", fails)
			os.Exit(1)
		}
		return
	}

	// Interactive mode
	fmt.Println("ospec resolver")
	fmt.Printf("Actor: %s\n", sh.describe(sh.actor))
	fmt.Println("Type ospecs to resolve, 'help' for the grammar, 'quit' to exit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for ctx.Err() == nil {
		fmt.Print("ospec> ")
		if !scanner.Scan() {
			break
		}
		if sh.exec(scanner.Text()) {
			break
		}
	}

	if store != nil {
		if err := store.SaveDatabase(w.Snapshot()); err != nil {
			log.Printf("Error saving world: %v", err)
		}
	}
}

// loadDatabase picks the world source: an explicit world file wins, then
// a populated bolt store. A world file read while a bolt store is open is
// imported into it.
func loadDatabase(c *conf.Conf, store *boltstore.Store) (*gamedb.Database, error) {
	if c.WorldFile != "" {
		db, err := world.LoadFile(c.WorldFile)
		if err != nil {
			return nil, err
		}
		if store != nil {
			if err := store.SaveDatabase(db); err != nil {
				return nil, err
			}
		}
		return db, nil
	}
	if store != nil && store.HasData() {
		return store.LoadDatabase()
	}
	return nil, fmt.Errorf("no world: set -world, world_file, or a populated -bolt store")
}

// resolveActor accepts "#3", "3" or a player name.
func resolveActor(w *world.World, arg string) gamedb.DBRef {
	if n, err := strconv.Atoi(strings.TrimPrefix(arg, "#")); err == nil {
		if w.Valid(gamedb.DBRef(n)) {
			return gamedb.DBRef(n)
		}
	} else if ref := w.FindPlayer(arg); ref != gamedb.Nothing {
		return ref
	}
	log.Fatalf("No such actor: %s", arg)
	return gamedb.Nothing
}

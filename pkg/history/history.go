// Package history keeps an SQLite log of resolver events so operators can
// see which ospecs an actor ran and what they matched.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS resolutions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	at          INTEGER NOT NULL,
	actor       INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	spec        TEXT    NOT NULL DEFAULT '',
	op          TEXT    NOT NULL DEFAULT '',
	refs        TEXT    NOT NULL DEFAULT '',
	err         TEXT    NOT NULL DEFAULT '',
	duration_us INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS resolutions_actor ON resolutions(actor, id);`

// Entry is one logged event.
type Entry struct {
	ID       int64
	Time     time.Time
	Actor    gamedb.DBRef
	Kind     string
	Spec     string
	Op       string
	Refs     []gamedb.DBRef
	Err      string
	Duration time.Duration
}

// Log is an SQLite-backed events.Subscriber.
type Log struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	timeout time.Duration
	closed  bool
}

// Open opens or creates the history database, sets WAL mode and busy timeout.
func Open(path string, timeoutSec int) (*Log, error) {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: setting WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000)); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: creating schema: %w", err)
	}
	log.Printf("history: logging resolutions to %s", path)
	return &Log{db: db, path: path, timeout: time.Duration(timeoutSec) * time.Second}, nil
}

// Close closes the database. Later events are dropped.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

// Path returns the filesystem path of the SQLite database.
func (l *Log) Path() string { return l.path }

// Closed implements events.Subscriber.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Receive implements events.Subscriber. Write failures are logged, never
// returned to the resolver.
func (l *Log) Receive(ev events.Event) {
	if err := l.Record(ev); err != nil {
		log.Printf("history: %v", err)
	}
}

// Record writes ev.
func (l *Log) Record(ev events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("history: log closed")
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO resolutions (at, actor, kind, spec, op, refs, err, duration_us) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixMicro(), int64(ev.Actor), ev.Type.String(), ev.Spec, ev.Op, formatRefs(ev.Refs), ev.Err, ev.Duration.Microseconds())
	if err != nil {
		return fmt.Errorf("insert %s: %w", ev.Type, err)
	}
	return nil
}

// Recent returns up to limit entries for actor, newest first. A Nothing
// actor selects every actor.
func (l *Log) Recent(actor gamedb.DBRef, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("history: log closed")
	}
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	query := `SELECT id, at, actor, kind, spec, op, refs, err, duration_us FROM resolutions`
	args := []any{}
	if actor != gamedb.Nothing {
		query += ` WHERE actor = ?`
		args = append(args, int64(actor))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			at, dur  int64
			actorRef int64
			refs     string
		)
		if err := rows.Scan(&e.ID, &at, &actorRef, &e.Kind, &e.Spec, &e.Op, &refs, &e.Err, &dur); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Time = time.UnixMicro(at)
		e.Actor = gamedb.DBRef(actorRef)
		e.Refs = parseRefs(refs)
		e.Duration = time.Duration(dur) * time.Microsecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than cutoff and returns how many went.
func (l *Log) Prune(cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("history: log closed")
	}
	res, err := l.db.Exec(`DELETE FROM resolutions WHERE at < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

// formatRefs renders refs as "#1 #2".
func formatRefs(refs []gamedb.DBRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = "#" + strconv.Itoa(int(r))
	}
	return strings.Join(parts, " ")
}

func parseRefs(s string) []gamedb.DBRef {
	var out []gamedb.DBRef
	for _, f := range strings.Fields(s) {
		if n, err := strconv.Atoi(strings.TrimPrefix(f, "#")); err == nil {
			out = append(out, gamedb.DBRef(n))
		}
	}
	return out
}

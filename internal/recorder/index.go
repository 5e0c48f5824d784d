package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// indexSchema mirrors a single table: one row per recording file, keyed
// by its logical name, carrying just enough to answer list and
// list_recursive without re-reading and re-unmarshalling every
// file on each call. Uses a schema-as-a-constant plus db.Exec(schema)
// migration idiom.
const indexSchema = `
CREATE TABLE IF NOT EXISTS recordings (
    name      TEXT PRIMARY KEY,
    path      TEXT NOT NULL,
    size      INTEGER NOT NULL,
    mtime     INTEGER NOT NULL,
    actions   INTEGER NOT NULL,
    events    INTEGER NOT NULL,
    duration  REAL NOT NULL
);
`

// Index is a read-through cache over the recordings tree: Refresh re-stats
// every file but only re-parses the JSON body of files whose size or
// mtime changed since the last Refresh, keyed by logical (extensionless,
// relative) name. The JSON files under RecordDir remain the sole source
// of truth; Index holds no state that cannot be rebuilt by rescanning
// the directory from scratch.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the SQLite cache database at path.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("recorder: open index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: apply index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Refresh walks base, reusing cached rows whose (size, mtime) are
// unchanged and re-parsing the JSON body only for new or modified
// files, then prunes rows for files no longer present. It returns the
// resulting entries sorted by logical name, the same contract
// ListRecursive exposes without an Index.
func (ix *Index) Refresh(base string) ([]Entry, error) {
	cached, err := ix.loadAll()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cached))
	var out []Entry

	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		if err := ix.pruneExcept(nil); err != nil {
			return nil, err
		}
		return out, nil
	}

	walkErr := filepath.Walk(base, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		logical := filepath.ToSlash(rel[:len(rel)-len(filepath.Ext(rel))])
		seen[logical] = true

		if prev, ok := cached[logical]; ok && prev.Size == fi.Size() && prev.Mtime == fi.ModTime().Unix() && prev.Path == path {
			out = append(out, prev)
			return nil
		}

		e := Entry{Name: logical, Path: path, Size: fi.Size(), Mtime: fi.ModTime().Unix()}
		if data, err := os.ReadFile(path); err == nil {
			var f file
			if json.Unmarshal(data, &f) == nil {
				e.Actions = len(f.Actions)
				e.Events = len(f.Events)
				e.Duration = actionsDuration(f.Actions)
			}
		}
		if err := ix.upsert(e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if err := ix.pruneExcept(seen); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (ix *Index) loadAll() (map[string]Entry, error) {
	rows, err := ix.db.Query(`SELECT name, path, size, mtime, actions, events, duration FROM recordings`)
	if err != nil {
		return nil, fmt.Errorf("recorder: query index: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Path, &e.Size, &e.Mtime, &e.Actions, &e.Events, &e.Duration); err != nil {
			return nil, fmt.Errorf("recorder: scan index row: %w", err)
		}
		out[e.Name] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recorder: iterate index rows: %w", err)
	}
	return out, nil
}

func (ix *Index) upsert(e Entry) error {
	_, err := ix.db.Exec(`
		INSERT INTO recordings (name, path, size, mtime, actions, events, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path, size = excluded.size, mtime = excluded.mtime,
			actions = excluded.actions, events = excluded.events, duration = excluded.duration`,
		e.Name, e.Path, e.Size, e.Mtime, e.Actions, e.Events, e.Duration,
	)
	if err != nil {
		return fmt.Errorf("recorder: upsert index row %q: %w", e.Name, err)
	}
	return nil
}

func (ix *Index) pruneExcept(seen map[string]bool) error {
	rows, err := ix.db.Query(`SELECT name FROM recordings`)
	if err != nil {
		return fmt.Errorf("recorder: query index names: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("recorder: scan index name: %w", err)
		}
		if !seen[name] {
			stale = append(stale, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("recorder: iterate index names: %w", err)
	}
	for _, name := range stale {
		if _, err := ix.db.Exec(`DELETE FROM recordings WHERE name = ?`, name); err != nil {
			return fmt.Errorf("recorder: prune index row %q: %w", name, err)
		}
	}
	return nil
}

func actionsDuration(actions []Action) float64 {
	var end float64
	for _, a := range actions {
		if e := a.Press + a.Dur; e > end {
			end = e
		}
	}
	return end
}

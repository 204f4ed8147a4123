// Package store keeps a local history of analyzed articles in sqlite, used
// by the feed scanner to avoid re-analyzing items and to answer queries about
// past verdicts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one analyzed article.
type Entry struct {
	Key           string
	Source        string
	Title         string
	Link          string
	Impact        string
	Confidence    int
	AffectedCoins []string
	Lang          string
	LowConfidence bool
	AnalyzedAt    time.Time
}

// QueryOpts filters Recent.
type QueryOpts struct {
	Since   time.Time
	Sources []string
	Impact  string
	Search  string
	Limit   int
}

// Counts summarizes the stored history.
type Counts struct {
	Total    int
	Positive int
	Negative int
	Neutral  int
}

type History struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

func Open(dbPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	h := &History{readDB: readDB, writeDB: writeDB}
	if err := h.init(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) init() error {
	_, err := h.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS analyses (
			key            TEXT PRIMARY KEY,
			source         TEXT NOT NULL DEFAULT '',
			title          TEXT NOT NULL,
			link           TEXT NOT NULL DEFAULT '',
			impact         TEXT NOT NULL,
			confidence     INTEGER NOT NULL,
			affected_coins TEXT NOT NULL DEFAULT '',
			lang           TEXT NOT NULL DEFAULT 'en',
			low_confidence INTEGER NOT NULL DEFAULT 0,
			analyzed_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_analyses_analyzed ON analyses(analyzed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_analyses_source ON analyses(source);

		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (h *History) Close() error {
	var errs []error
	if h.readDB != nil {
		errs = append(errs, h.readDB.Close())
	}
	if h.writeDB != nil {
		errs = append(errs, h.writeDB.Close())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Record upserts entries; a re-analyzed article replaces its old verdict.
func (h *History) Record(entries []Entry) error {
	tx, err := h.writeDB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO analyses (key, source, title, link, impact, confidence, affected_coins, lang, low_confidence, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			impact = excluded.impact,
			confidence = excluded.confidence,
			affected_coins = excluded.affected_coins,
			low_confidence = excluded.low_confidence,
			analyzed_at = excluded.analyzed_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.Exec(e.Key, e.Source, e.Title, e.Link, e.Impact, e.Confidence,
			strings.Join(e.AffectedCoins, ","), e.Lang, boolToInt(e.LowConfidence), e.AnalyzedAt)
		if err != nil {
			return fmt.Errorf("recording analysis %s: %w", e.Key, err)
		}
	}

	return tx.Commit()
}

// Seen reports which of the given keys already have a recorded verdict.
func (h *History) Seen(keys []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return seen, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}

	rows, err := h.readDB.Query(
		"SELECT key FROM analyses WHERE key IN ("+strings.Join(placeholders, ",")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("querying seen keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		seen[k] = true
	}
	return seen, rows.Err()
}

func (h *History) Recent(opts QueryOpts) ([]Entry, error) {
	var (
		where []string
		args  []interface{}
	)

	if !opts.Since.IsZero() {
		where = append(where, "analyzed_at >= ?")
		args = append(args, opts.Since)
	}

	if len(opts.Sources) > 0 {
		placeholders := make([]string, len(opts.Sources))
		for i, s := range opts.Sources {
			placeholders[i] = "?"
			args = append(args, s)
		}
		where = append(where, "source IN ("+strings.Join(placeholders, ",")+")")
	}

	if opts.Impact != "" {
		where = append(where, "impact = ?")
		args = append(args, opts.Impact)
	}

	if opts.Search != "" {
		where = append(where, "title LIKE ?")
		args = append(args, "%"+opts.Search+"%")
	}

	query := "SELECT key, source, title, link, impact, confidence, affected_coins, lang, low_confidence, analyzed_at FROM analyses"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY analyzed_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := h.readDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			coins string
			low   int
		)
		if err := rows.Scan(&e.Key, &e.Source, &e.Title, &e.Link, &e.Impact, &e.Confidence,
			&coins, &e.Lang, &low, &e.AnalyzedAt); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		if coins != "" {
			e.AffectedCoins = strings.Split(coins, ",")
		}
		e.LowConfidence = low != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries analyzed more than maxAge ago and returns the count.
func (h *History) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := h.writeDB.Exec("DELETE FROM analyses WHERE analyzed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning analyses: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns verdict counts and the db file size in bytes.
func (h *History) Stats(dbPath string) (Counts, int64, error) {
	var c Counts
	rows, err := h.readDB.Query("SELECT impact, COUNT(*) FROM analyses GROUP BY impact")
	if err != nil {
		return c, 0, fmt.Errorf("counting analyses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			impact string
			n      int
		)
		if err := rows.Scan(&impact, &n); err != nil {
			return c, 0, err
		}
		c.Total += n
		switch impact {
		case "Positive":
			c.Positive += n
		case "Negative":
			c.Negative += n
		default:
			c.Neutral += n
		}
	}
	if err := rows.Err(); err != nil {
		return c, 0, err
	}

	var size int64
	if fi, err := os.Stat(dbPath); err == nil {
		size = fi.Size()
	}
	return c, size, nil
}

// NeedsScan reports whether the last recorded scan is older than interval.
func (h *History) NeedsScan(interval time.Duration) bool {
	var value string
	err := h.readDB.QueryRow("SELECT value FROM meta WHERE key = 'last_scan'").Scan(&value)
	if err != nil {
		return true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return true
	}
	return time.Since(t) > interval
}

func (h *History) SetLastScan() error {
	_, err := h.writeDB.Exec(`
		INSERT INTO meta (key, value) VALUES ('last_scan', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, time.Now().Format(time.RFC3339))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/morse-hpc/hpkg/internal/spec"
)

const schema = `
CREATE TABLE IF NOT EXISTS installs (
	hash      TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	version   TEXT NOT NULL,
	compiler  TEXT NOT NULL,
	variants  TEXT NOT NULL,
	strategy  TEXT NOT NULL,
	prefix    TEXT NOT NULL,
	run_id    TEXT NOT NULL,
	installed TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dependencies (
	hash     TEXT NOT NULL,
	dep_hash TEXT NOT NULL,
	dep_name TEXT NOT NULL,
	PRIMARY KEY (hash, dep_hash)
);
CREATE INDEX IF NOT EXISTS dependencies_dep ON dependencies (dep_hash);
`

// DB indexes installs and their dependency links.
type DB struct {
	db *sql.DB
}

// Record is one row of the install index.
type Record struct {
	Hash      string
	Name      string
	Version   string
	Compiler  string
	Variants  string
	Strategy  string
	Prefix    string
	RunID     string
	Installed time.Time
}

// Short renders name@version/hash7.
func (r Record) Short() string {
	h := r.Hash
	if len(h) > spec.ShortHashLength {
		h = h[:spec.ShortHashLength]
	}
	return r.Name + "@" + r.Version + "/" + h
}

// OpenDB opens (and creates when missing) the sqlite index at path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening install database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing install database %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Record stores sp as installed by run runID, replacing an older row.
func (d *DB) Record(ctx context.Context, sp *spec.Spec, runID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO installs (hash, name, version, compiler, variants, strategy, prefix, run_id, installed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.Hash(), sp.Name(), sp.Version().String(), sp.Compiler().String(), sp.Variants().String(),
		sp.Strategy(), sp.Prefix(), runID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("recording %s: %w", sp.Short(), err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE hash = ?`, sp.Hash()); err != nil {
		return err
	}
	for _, dep := range sp.Deps() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dependencies (hash, dep_hash, dep_name) VALUES (?, ?, ?)`,
			sp.Hash(), dep.Hash(), dep.Name()); err != nil {
			return fmt.Errorf("recording dependency %s of %s: %w", dep.Name(), sp.Short(), err)
		}
	}
	return tx.Commit()
}

const selectRecord = `SELECT i.hash, i.name, i.version, i.compiler, i.variants, i.strategy, i.prefix, i.run_id, i.installed FROM installs i`

// List returns every record ordered by name and version.
func (d *DB) List(ctx context.Context) ([]Record, error) {
	return d.query(ctx, selectRecord+` ORDER BY i.name, i.version, i.hash`)
}

// Get returns the record whose hash starts with hash.
func (d *DB) Get(ctx context.Context, hash string) (Record, bool, error) {
	recs, err := d.query(ctx, selectRecord+` WHERE i.hash LIKE ? || '%' ORDER BY i.hash`, escapeLike(hash))
	if err != nil || len(recs) != 1 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}

// Dependents returns the records that directly depend on hash.
func (d *DB) Dependents(ctx context.Context, hash string) ([]Record, error) {
	return d.query(ctx, selectRecord+` JOIN dependencies d ON d.hash = i.hash WHERE d.dep_hash = ? ORDER BY i.name`, hash)
}

// Forget removes hash from the index.
func (d *DB) Forget(ctx context.Context, hash string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM installs WHERE hash = ?`,
		`DELETE FROM dependencies WHERE hash = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, hash); err != nil {
			return fmt.Errorf("forgetting %s: %w", hash, err)
		}
	}
	return tx.Commit()
}

func (d *DB) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying install database: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var installed string
		if err := rows.Scan(&r.Hash, &r.Name, &r.Version, &r.Compiler, &r.Variants, &r.Strategy, &r.Prefix, &r.RunID, &installed); err != nil {
			return nil, err
		}
		r.Installed, _ = time.Parse(time.RFC3339, installed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// escapeLike drops LIKE wildcards; hashes are base32 and never contain them.
func escapeLike(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}

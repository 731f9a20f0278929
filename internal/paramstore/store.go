// Package paramstore persists runtime parameter changes and pipeline
// builds in sqlite. The latest accepted value of every parameter is
// offered back as a params.Source so changes survive a rebuild or restart.
package paramstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/depth.relay/internal/dai/params"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the store at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serialise through one connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for debug tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// MigrateUp applies all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared DB handle.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) { log.Printf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                  { return false }

// Change is one entry of a recorded batch.
type Change struct {
	Name     string
	Value    params.Value
	Accepted bool
	Err      string
}

// Record is a stored change.
type Record struct {
	ID         int64        `json:"id"`
	BatchID    string       `json:"batch_id"`
	Name       string       `json:"name"`
	Value      params.Value `json:"-"`
	Display    string       `json:"value"`
	Accepted   bool         `json:"accepted"`
	Err        string       `json:"error,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

func encodeValue(v params.Value) (string, string) {
	if v.Type() == params.TypeString {
		return v.Type().String(), v.Str()
	}
	return v.Type().String(), v.String()
}

func decodeValue(typ, raw string) (params.Value, error) {
	switch typ {
	case "bool":
		b, err := strconv.ParseBool(raw)
		return params.Bool(b), err
	case "int":
		i, err := strconv.Atoi(raw)
		return params.Int(i), err
	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		return params.Float(f), err
	case "string":
		return params.String(raw), nil
	}
	return params.Value{}, fmt.Errorf("unknown value type %q", typ)
}

// RecordBatch stores every change of one runtime batch in a transaction.
func (s *Store) RecordBatch(ctx context.Context, batchID string, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO param_changes (batch_id, name, value_type, value, accepted, error) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range changes {
		typ, raw := encodeValue(c.Value)
		var errText sql.NullString
		if c.Err != "" {
			errText = sql.NullString{String: c.Err, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, batchID, c.Name, typ, raw, c.Accepted, errText); err != nil {
			return fmt.Errorf("recording %s: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

// Latest returns the most recent accepted value of every parameter.
func (s *Store) Latest(ctx context.Context) (params.MapSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value_type, value FROM param_changes
		WHERE change_id IN (
			SELECT MAX(change_id) FROM param_changes WHERE accepted = 1 GROUP BY name
		)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := params.MapSource{}
	for rows.Next() {
		var name, typ, raw string
		if err := rows.Scan(&name, &typ, &raw); err != nil {
			return nil, err
		}
		v, err := decodeValue(typ, raw)
		if err != nil {
			log.Printf("[ParamStore] skipping %s: %v", name, err)
			continue
		}
		out[name] = v
	}
	return out, rows.Err()
}

// History returns the latest changes, newest first. An empty prefix
// matches every parameter; "stereo." matches one node.
func (s *Store) History(ctx context.Context, prefix string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, batch_id, name, value_type, value, accepted, COALESCE(error, ''), recorded_at
		FROM param_changes
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY change_id DESC
		LIMIT ?`, escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var typ, raw string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Name, &typ, &raw, &r.Accepted, &r.Err, &r.RecordedAt); err != nil {
			return nil, err
		}
		if r.Value, err = decodeValue(typ, raw); err != nil {
			return nil, fmt.Errorf("change %d: %w", r.ID, err)
		}
		r.Display = r.Value.String()
		out = append(out, r)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Build is one pipeline build.
type Build struct {
	ID           string    `json:"id"`
	PipelineType string    `json:"pipeline_type"`
	NodeCount    int       `json:"node_count"`
	Streams      []string  `json:"streams"`
	Err          string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

func (s *Store) RecordBuild(ctx context.Context, b Build) error {
	var errText sql.NullString
	if b.Err != "" {
		errText = sql.NullString{String: b.Err, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (build_id, pipeline_type, node_count, streams, error) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.PipelineType, b.NodeCount, strings.Join(b.Streams, ","), errText)
	return err
}

// Builds returns the most recent builds, newest first.
func (s *Store) Builds(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT build_id, pipeline_type, node_count, streams, COALESCE(error, ''), started_at
		FROM builds ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		var b Build
		var streams string
		if err := rows.Scan(&b.ID, &b.PipelineType, &b.NodeCount, &streams, &b.Err, &b.StartedAt); err != nil {
			return nil, err
		}
		if streams != "" {
			b.Streams = strings.Split(streams, ",")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Package desiredstate is the durable job_id -> {tenant, spec} table. It is
// backed by modernc.org/sqlite (pure Go, WAL mode) so the daemon has no
// cgo dependency and no external database to run.
package desiredstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/logging"
	"gopkg.in/yaml.v3"
)

const schema = `
CREATE TABLE IF NOT EXISTS desired_entries (
	job_id      TEXT PRIMARY KEY,
	tenant      TEXT NOT NULL,
	spec_json   TEXT NOT NULL,
	inserted_at INTEGER NOT NULL
);
`

// Store is the single owner of the underlying *sql.DB. All access goes
// through its exported methods; there is no other writer.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite file at path in WAL mode and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("desiredstate: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer avoids SQLITE_BUSY under WAL

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("desiredstate: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put upserts a desired entry for jobID. Idempotent.
func (s *Store) Put(ctx context.Context, jobID domain.JobId, tenant domain.Tenant, spec domain.Spec) error {
	payload, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("desiredstate: marshal spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO desired_entries (job_id, tenant, spec_json, inserted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET tenant = excluded.tenant, spec_json = excluded.spec_json
	`, string(jobID), string(tenant), string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", backend.ErrStoreUnavailable, jobID, err)
	}
	return nil
}

// Delete removes jobID's desired entry. Idempotent: deleting an unknown
// job_id is not an error.
func (s *Store) Delete(ctx context.Context, jobID domain.JobId) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM desired_entries WHERE job_id = ?`, string(jobID)); err != nil {
		return fmt.Errorf("%w: delete %s: %v", backend.ErrStoreUnavailable, jobID, err)
	}
	return nil
}

// Get returns jobID's desired entry, or backend.ErrUnknownJob if absent.
func (s *Store) Get(ctx context.Context, jobID domain.JobId) (domain.DesiredEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT tenant, spec_json FROM desired_entries WHERE job_id = ?`, string(jobID))
	var tenant, specJSON string
	if err := row.Scan(&tenant, &specJSON); err != nil {
		if err == sql.ErrNoRows {
			return domain.DesiredEntry{}, backend.ErrUnknownJob
		}
		return domain.DesiredEntry{}, fmt.Errorf("%w: get %s: %v", backend.ErrStoreUnavailable, jobID, err)
	}
	var spec domain.Spec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return domain.DesiredEntry{}, fmt.Errorf("desiredstate: unmarshal spec for %s: %w", jobID, err)
	}
	return domain.DesiredEntry{JobId: jobID, Tenant: domain.Tenant(tenant), Spec: spec}, nil
}

// List returns every desired entry, in no particular order.
func (s *Store) List(ctx context.Context) ([]domain.DesiredEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, tenant, spec_json FROM desired_entries`)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", backend.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []domain.DesiredEntry
	for rows.Next() {
		var jobID, tenant, specJSON string
		if err := rows.Scan(&jobID, &tenant, &specJSON); err != nil {
			return nil, fmt.Errorf("desiredstate: scan row: %w", err)
		}
		var spec domain.Spec
		if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
			return nil, fmt.Errorf("desiredstate: unmarshal spec for %s: %w", jobID, err)
		}
		entries = append(entries, domain.DesiredEntry{JobId: domain.JobId(jobID), Tenant: domain.Tenant(tenant), Spec: spec})
	}
	return entries, rows.Err()
}

// DeleteAll wipes every desired entry. Used by tests and by operators
// resetting the pool; not exposed over the HTTP API.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM desired_entries`); err != nil {
		return fmt.Errorf("%w: delete_all: %v", backend.ErrStoreUnavailable, err)
	}
	return nil
}

// bootstrapFile is the on-disk declarative shape consumed by Bootstrap.
type bootstrapFile struct {
	Jobs []struct {
		JobID  string      `yaml:"job_id"`
		Tenant string      `yaml:"tenant"`
		Spec   domain.Spec `yaml:"spec"`
	} `yaml:"jobs"`
}

// Bootstrap loads a YAML desired-state file once at startup and upserts
// every entry it contains, the same UPSERT semantics Put applies to a live
// POST /vms call: a restart with an updated bootstrap file re-applies it in
// full rather than only filling in job_ids the store doesn't already know.
func (s *Store) Bootstrap(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("desiredstate: read bootstrap file %s: %w", path, err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("desiredstate: parse bootstrap file %s: %w", path, err)
	}

	log := logging.Op().With("component", "desiredstate.bootstrap")
	for _, job := range file.Jobs {
		if err := job.Spec.Validate(); err != nil {
			log.Warn("skipping invalid bootstrap entry", "job_id", job.JobID, "err", err)
			continue
		}
		if err := s.Put(ctx, domain.JobId(job.JobID), domain.Tenant(job.Tenant), job.Spec); err != nil {
			log.Warn("failed to bootstrap entry", "job_id", job.JobID, "err", err)
			continue
		}
		log.Info("bootstrapped desired entry", "job_id", job.JobID)
	}
	return nil
}

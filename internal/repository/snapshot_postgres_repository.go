package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-crm-workflows/internal/common/database"
	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
)

const createSnapshotsTable = `
	CREATE TABLE IF NOT EXISTS crm_snapshots (
	    name       TEXT PRIMARY KEY,
	    version    BIGINT NOT NULL DEFAULT 0,
	    document   JSONB NOT NULL DEFAULT '{}'::jsonb,
	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// SnapshotPostgresRepository stores the CRM document as one JSONB row.
// Update locks the row for the length of the transaction, so concurrent
// mutations across replicas are serialized by postgres.
type SnapshotPostgresRepository struct {
	db   *database.DB
	name string
}

// NewSnapshotPostgresRepository creates a repository for the named document.
func NewSnapshotPostgresRepository(db *database.DB, name string) *SnapshotPostgresRepository {
	return &SnapshotPostgresRepository{db: db, name: name}
}

// EnsureSchema creates the snapshot table when it is missing.
func (r *SnapshotPostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createSnapshotsTable); err != nil {
		return storageError("failed to create crm_snapshots table", err)
	}
	return nil
}

// Load returns the stored document, or an empty one when no row exists yet.
func (r *SnapshotPostgresRepository) Load(ctx context.Context) (*Snapshot, error) {
	query := `
		SELECT version, document
		FROM crm_snapshots
		WHERE name = $1
	`

	var (
		version int64
		doc     []byte
	)
	err := r.db.QueryRow(ctx, query, r.name).Scan(&version, &doc)
	if err == pgx.ErrNoRows {
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, storageError("failed to load snapshot", err)
	}

	snap, err := DecodeSnapshot(doc)
	if err != nil {
		return nil, storageError("failed to decode snapshot", err)
	}
	snap.Version = version
	return snap, nil
}

// Save writes snap if the stored version still equals snap.Version.
func (r *SnapshotPostgresRepository) Save(ctx context.Context, snap *Snapshot) error {
	doc, err := snap.Encode()
	if err != nil {
		return storageError("failed to encode snapshot", err)
	}

	var tag int64
	if snap.Version == 0 {
		query := `
			INSERT INTO crm_snapshots (name, version, document, updated_at)
			VALUES ($1, 1, $2, now())
			ON CONFLICT (name) DO NOTHING
		`
		ct, err := r.db.Exec(ctx, query, r.name, doc)
		if err != nil {
			return storageError("failed to save snapshot", err)
		}
		tag = ct.RowsAffected()
	} else {
		query := `
			UPDATE crm_snapshots
			SET document = $3, version = version + 1, updated_at = now()
			WHERE name = $1 AND version = $2
		`
		ct, err := r.db.Exec(ctx, query, r.name, snap.Version, doc)
		if err != nil {
			return storageError("failed to save snapshot", err)
		}
		tag = ct.RowsAffected()
	}

	if tag == 0 {
		return conflictError(snap.Version)
	}
	snap.Version++
	return nil
}

// Update runs fn against the row under SELECT ... FOR UPDATE. Errors from fn
// keep their codes; begin and commit failures are storage errors.
func (r *SnapshotPostgresRepository) Update(ctx context.Context, fn func(snap *Snapshot) error) error {
	var fnErr error
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// Make sure a row exists to lock.
		_, err := tx.Exec(ctx, `
			INSERT INTO crm_snapshots (name, version, document)
			VALUES ($1, 0, '{}'::jsonb)
			ON CONFLICT (name) DO NOTHING
		`, r.name)
		if err != nil {
			return storageError("failed to initialise snapshot row", err)
		}

		var (
			version int64
			doc     []byte
		)
		err = tx.QueryRow(ctx, `
			SELECT version, document
			FROM crm_snapshots
			WHERE name = $1
			FOR UPDATE
		`, r.name).Scan(&version, &doc)
		if err != nil {
			return storageError("failed to lock snapshot", err)
		}

		snap, err := DecodeSnapshot(doc)
		if err != nil {
			return storageError("failed to decode snapshot", err)
		}
		snap.Version = version

		if fnErr = fn(snap); fnErr != nil {
			return fnErr
		}

		out, err := snap.Encode()
		if err != nil {
			return storageError("failed to encode snapshot", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE crm_snapshots
			SET document = $2, version = version + 1, updated_at = now()
			WHERE name = $1
		`, r.name, out)
		if err != nil {
			return storageError("failed to save snapshot", err)
		}
		return nil
	})
	if err == nil || err == fnErr {
		return err
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return storageError("failed to save snapshot", err)
}

package codesystem

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/txserver/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type codeSystemRepoPG struct{ pool *pgxpool.Pool }

func NewCodeSystemRepoPG(pool *pgxpool.Pool) CodeSystemRepository {
	return &codeSystemRepoPG{pool: pool}
}

func (r *codeSystemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const csCols = `id, fhir_id, url, version, status, content, supplements, resource,
	version_id, created_at, updated_at`

func (r *codeSystemRepoPG) scanRow(row pgx.Row) (*CodeSystem, error) {
	var cs CodeSystem
	err := row.Scan(&cs.ID, &cs.FHIRID, &cs.URL, &cs.Version, &cs.Status,
		&cs.Content, &cs.Supplements, &cs.Resource,
		&cs.VersionID, &cs.CreatedAt, &cs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &cs, err
}

func (r *codeSystemRepoPG) collect(rows pgx.Rows, err error) ([]*CodeSystem, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CodeSystem
	for rows.Next() {
		cs, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cs)
	}
	return items, rows.Err()
}

// Upsert inserts a code system or replaces the row with the same fhir_id,
// bumping its version_id.
func (r *codeSystemRepoPG) Upsert(ctx context.Context, cs *CodeSystem) error {
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	if cs.FHIRID == "" {
		cs.FHIRID = cs.ID.String()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO code_system (id, fhir_id, url, version, status, content, supplements, resource)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (fhir_id) DO UPDATE SET
			url = EXCLUDED.url, version = EXCLUDED.version, status = EXCLUDED.status,
			content = EXCLUDED.content, supplements = EXCLUDED.supplements,
			resource = EXCLUDED.resource, version_id = code_system.version_id + 1,
			updated_at = NOW()
		RETURNING id, version_id, created_at, updated_at`,
		cs.ID, cs.FHIRID, cs.URL, cs.Version, cs.Status,
		cs.Content, cs.Supplements, cs.Resource,
	).Scan(&cs.ID, &cs.VersionID, &cs.CreatedAt, &cs.UpdatedAt)
}

func (r *codeSystemRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*CodeSystem, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+csCols+` FROM code_system WHERE fhir_id = $1`, fhirID))
}

func (r *codeSystemRepoPG) FindByURL(ctx context.Context, url string) ([]*CodeSystem, error) {
	return r.collect(r.conn(ctx).Query(ctx,
		`SELECT `+csCols+` FROM code_system WHERE url = $1 AND supplements = '' ORDER BY created_at`, url))
}

// FindSupplements matches both "url" and "url|version" back-references by
// comparing the canonical part exactly.
func (r *codeSystemRepoPG) FindSupplements(ctx context.Context, systemURL string) ([]*CodeSystem, error) {
	return r.collect(r.conn(ctx).Query(ctx,
		`SELECT `+csCols+` FROM code_system
		WHERE supplements <> '' AND split_part(supplements, '|', 1) = $1 ORDER BY created_at`, systemURL))
}

func (r *codeSystemRepoPG) Delete(ctx context.Context, fhirID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM code_system WHERE fhir_id = $1`, fhirID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *codeSystemRepoPG) List(ctx context.Context, limit, offset int) ([]*CodeSystem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM code_system`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.collect(r.conn(ctx).Query(ctx,
		`SELECT `+csCols+` FROM code_system ORDER BY url, version LIMIT $1 OFFSET $2`, limit, offset))
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

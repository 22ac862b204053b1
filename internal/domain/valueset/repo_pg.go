package valueset

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

type valueSetRepoPG struct{ pool *pgxpool.Pool }

func NewValueSetRepoPG(pool *pgxpool.Pool) ValueSetRepository {
	return &valueSetRepoPG{pool: pool}
}

func (r *valueSetRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const vsCols = `id, fhir_id, url, version, name, status, resource,
	version_id, created_at, updated_at`

func (r *valueSetRepoPG) scanRow(row pgx.Row) (*ValueSet, error) {
	var vs ValueSet
	err := row.Scan(&vs.ID, &vs.FHIRID, &vs.URL, &vs.Version, &vs.Name, &vs.Status,
		&vs.Resource, &vs.VersionID, &vs.CreatedAt, &vs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &vs, err
}

func (r *valueSetRepoPG) collect(rows pgx.Rows, err error) ([]*ValueSet, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ValueSet
	for rows.Next() {
		vs, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, vs)
	}
	return items, rows.Err()
}

func (r *valueSetRepoPG) Upsert(ctx context.Context, vs *ValueSet) error {
	if vs.ID == uuid.Nil {
		vs.ID = uuid.New()
	}
	if vs.FHIRID == "" {
		vs.FHIRID = vs.ID.String()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO value_set (id, fhir_id, url, version, name, status, resource)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (fhir_id) DO UPDATE SET
			url = EXCLUDED.url, version = EXCLUDED.version, name = EXCLUDED.name,
			status = EXCLUDED.status, resource = EXCLUDED.resource,
			version_id = value_set.version_id + 1, updated_at = NOW()
		RETURNING id, version_id, created_at, updated_at`,
		vs.ID, vs.FHIRID, vs.URL, vs.Version, vs.Name, vs.Status, vs.Resource,
	).Scan(&vs.ID, &vs.VersionID, &vs.CreatedAt, &vs.UpdatedAt)
}

func (r *valueSetRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*ValueSet, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+vsCols+` FROM value_set WHERE fhir_id = $1`, fhirID))
}

func (r *valueSetRepoPG) FindByURL(ctx context.Context, url string) ([]*ValueSet, error) {
	return r.collect(r.conn(ctx).Query(ctx,
		`SELECT `+vsCols+` FROM value_set WHERE url = $1 ORDER BY created_at`, url))
}

func (r *valueSetRepoPG) Delete(ctx context.Context, fhirID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM value_set WHERE fhir_id = $1`, fhirID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *valueSetRepoPG) List(ctx context.Context, limit, offset int) ([]*ValueSet, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM value_set`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.collect(r.conn(ctx).Query(ctx,
		`SELECT `+vsCols+` FROM value_set ORDER BY url, version LIMIT $1 OFFSET $2`, limit, offset))
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

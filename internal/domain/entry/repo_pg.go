package entry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/recon/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type entryRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a PostgreSQL-backed entry repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, section, pat_key, data, reviewed, archived, archived_on,
	hidden, attribution, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Section, &e.PatientKey, &e.Data, &e.Reviewed,
		&e.Archived, &e.ArchivedOn, &e.Hidden, &e.Attribution,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entryRepoPG) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Attribution == nil {
		e.Attribution = []uuid.UUID{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO entries (id, section, pat_key, data, reviewed, hidden, attribution)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.Section, e.PatientKey, e.Data, e.Reviewed, e.Hidden, e.Attribution)
	return err
}

func (r *entryRepoPG) GetByID(ctx context.Context, section string, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM entries
		WHERE id = $1 AND section = $2 AND NOT archived`, id, section))
}

func (r *entryRepoPG) GetForPatient(ctx context.Context, section, patientKey string, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM entries
		WHERE id = $1 AND section = $2 AND pat_key = $3`, id, section, patientKey))
}

func (r *entryRepoPG) UpdateData(ctx context.Context, section string, id uuid.UUID, data map[string]interface{}, reviewed bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE entries SET data = $3, reviewed = $4, updated_at = NOW()
		WHERE id = $1 AND section = $2`, id, section, data, reviewed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepoPG) SetReviewed(ctx context.Context, section string, id uuid.UUID, reviewed bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE entries SET reviewed = $3, updated_at = NOW()
		WHERE id = $1 AND section = $2`, id, section, reviewed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepoPG) SetHidden(ctx context.Context, section string, id uuid.UUID, hidden bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE entries SET hidden = $3, updated_at = NOW()
		WHERE id = $1 AND section = $2`, id, section, hidden)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepoPG) Archive(ctx context.Context, section string, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE entries SET archived = TRUE, archived_on = $3, updated_at = NOW()
		WHERE id = $1 AND section = $2 AND NOT archived`, id, section, at)
	if err != nil {
		return err
	}
	// Re-archiving is a no-op, not an error: the entry keeps its first
	// archive timestamp.
	_ = tag
	return nil
}

func (r *entryRepoPG) AppendAttribution(ctx context.Context, section string, entryID, attributionID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE entries SET attribution = array_append(attribution, $3), updated_at = NOW()
		WHERE id = $1 AND section = $2`, entryID, section, attributionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepoPG) AttributionOrder(ctx context.Context, section string, entryID uuid.UUID) ([]uuid.UUID, error) {
	var order []uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT attribution FROM entries
		WHERE id = $1 AND section = $2`, entryID, section).Scan(&order)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (r *entryRepoPG) ListByPatient(ctx context.Context, section, patientKey string, reviewed bool) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM entries
		WHERE section = $1 AND pat_key = $2 AND reviewed = $3
		  AND NOT archived AND NOT hidden
		ORDER BY created_at`, section, patientKey, reviewed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *entryRepoPG) FirstIDForPatient(ctx context.Context, section, patientKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id FROM entries
		WHERE section = $1 AND pat_key = $2 AND NOT archived
		ORDER BY created_at LIMIT 1`, section, patientKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	return id, err
}

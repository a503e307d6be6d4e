package merge

import (
	"context"

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

type mergeRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a PostgreSQL-backed attribution repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &mergeRepoPG{pool: pool}
}

func (r *mergeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const mergeCols = `id, section, pat_key, entry_id, source_id, reason, merged_at, archived`

func (r *mergeRepoPG) Insert(ctx context.Context, a *Attribution) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO merges (id, section, pat_key, entry_id, source_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Section, a.PatientKey, a.EntryID, a.SourceID, a.Reason)
	return err
}

func (r *mergeRepoPG) ListByEntry(ctx context.Context, section string, entryID uuid.UUID) ([]*Attribution, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+mergeCols+` FROM merges
		WHERE section = $1 AND entry_id = $2
		ORDER BY merged_at, id`, section, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Attribution
	for rows.Next() {
		var a Attribution
		if err := rows.Scan(&a.ID, &a.Section, &a.PatientKey, &a.EntryID,
			&a.SourceID, &a.Reason, &a.MergedAt, &a.Archived); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

func (r *mergeRepoPG) ListJoined(ctx context.Context, section, patientKey string) ([]*JoinedRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.section, m.pat_key, m.entry_id, m.source_id, m.reason,
		       m.merged_at, m.archived, e.data, e.reviewed
		FROM merges m
		JOIN entries e ON e.id = m.entry_id AND e.section = m.section
		WHERE m.section = $1 AND m.pat_key = $2 AND NOT m.archived
		ORDER BY m.merged_at, m.id`, section, patientKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*JoinedRecord
	for rows.Next() {
		var j JoinedRecord
		if err := rows.Scan(&j.ID, &j.Section, &j.PatientKey, &j.EntryID,
			&j.SourceID, &j.Reason, &j.MergedAt, &j.Archived,
			&j.EntryData, &j.EntryReviewed); err != nil {
			return nil, err
		}
		items = append(items, &j)
	}
	return items, rows.Err()
}

func (r *mergeRepoPG) CountReviewed(ctx context.Context, section, patientKey string, cond Conditions) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM merges m
		JOIN entries e ON e.id = m.entry_id AND e.section = m.section
		WHERE m.section = $1 AND m.pat_key = $2 AND NOT m.archived AND e.reviewed`
	args := []interface{}{section, patientKey}
	if cond.Reason != "" {
		query += ` AND m.reason = $3`
		args = append(args, cond.Reason)
	}
	var total int
	err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&total)
	return total, err
}

func (r *mergeRepoPG) ArchiveByEntry(ctx context.Context, section string, entryID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE merges SET archived = TRUE
		WHERE section = $1 AND entry_id = $2`, section, entryID)
	return err
}

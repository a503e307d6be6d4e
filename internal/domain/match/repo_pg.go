package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

type matchRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a PostgreSQL-backed proposal repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &matchRepoPG{pool: pool}
}

func (r *matchRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const matchCols = `id, section, pat_key, entry_id, candidates, determination, created_at`

func scanProposal(row pgx.Row) (*Proposal, error) {
	var p Proposal
	err := row.Scan(&p.ID, &p.Section, &p.PatientKey, &p.EntryID,
		&p.Candidates, &p.Determination, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *matchRepoPG) Insert(ctx context.Context, p *Proposal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Candidates == nil {
		p.Candidates = []Candidate{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO matches (id, section, pat_key, entry_id, candidates)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.Section, p.PatientKey, p.EntryID, p.Candidates)
	return err
}

func (r *matchRepoPG) GetForPatient(ctx context.Context, section, patientKey string, id uuid.UUID) (*Proposal, error) {
	return scanProposal(r.conn(ctx).QueryRow(ctx, `
		SELECT `+matchCols+` FROM matches
		WHERE id = $1 AND section = $2 AND pat_key = $3`, id, section, patientKey))
}

func (r *matchRepoPG) ListPending(ctx context.Context, section, patientKey string) ([]*Proposal, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+matchCols+` FROM matches
		WHERE section = $1 AND pat_key = $2 AND determination IS NULL
		ORDER BY created_at`, section, patientKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *matchRepoPG) CountPending(ctx context.Context, section, patientKey string, conditions map[string]interface{}) (int, error) {
	query := `
		SELECT COUNT(*) FROM matches
		WHERE section = $1 AND pat_key = $2 AND determination IS NULL`
	args := []interface{}{section, patientKey}
	if len(conditions) > 0 {
		condJSON, err := json.Marshal(conditions)
		if err != nil {
			return 0, fmt.Errorf("marshal count conditions: %w", err)
		}
		query += ` AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(candidates) c
			WHERE c->'match_object' @> $3::jsonb)`
		args = append(args, string(condJSON))
	}
	var total int
	err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&total)
	return total, err
}

func (r *matchRepoPG) SetDetermination(ctx context.Context, section string, id uuid.UUID, reason string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE matches SET determination = $3
		WHERE id = $1 AND section = $2 AND determination IS NULL`, id, section, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Zero rows: either the proposal is gone or it already went terminal.
	var exists bool
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1 AND section = $2)`,
		id, section).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyDetermined
	}
	return ErrNotFound
}

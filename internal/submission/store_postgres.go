package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	dErrors "sportello/pkg/domain-errors"
)

// Schema is the table backing the postgres store. The unique index on
// codice_fiscale is what makes one-submission-per-person hold under
// concurrent inserts.
const Schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id BIGSERIAL PRIMARY KEY,
	cognome TEXT NOT NULL,
	nome TEXT NOT NULL,
	data_nascita TEXT NOT NULL,
	comune_nascita TEXT NOT NULL,
	codice_fiscale TEXT NOT NULL UNIQUE,
	comune_residenza TEXT NOT NULL,
	indirizzo_residenza TEXT NOT NULL,
	telefono TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	notes TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS submissions_status_idx ON submissions (status);
CREATE INDEX IF NOT EXISTS submissions_submitted_at_idx ON submissions (submitted_at DESC);
`

const submissionColumns = `id, cognome, nome, data_nascita, comune_nascita, codice_fiscale,
	comune_residenza, indirizzo_residenza, telefono, email,
	file_name, file_path, file_size, ip_address, user_agent,
	submitted_at, status, notes`

// PostgresStore persists submissions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the submissions table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure submissions schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, sub *Submission) (int64, error) {
	query := `
		INSERT INTO submissions (
			cognome, nome, data_nascita, comune_nascita, codice_fiscale,
			comune_residenza, indirizzo_residenza, telefono, email,
			file_name, file_path, file_size, ip_address, user_agent,
			submitted_at, status, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id
	`
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		sub.Cognome, sub.Nome, sub.DataNascita, sub.ComuneNascita, sub.CodiceFiscale,
		sub.ComuneResidenza, sub.IndirizzoResidenza, sub.Telefono, sub.Email,
		sub.FileName, sub.FilePath, sub.FileSize, sub.IPAddress, sub.UserAgent,
		sub.SubmittedAt, sub.Status, sub.Notes,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, dErrors.New(dErrors.CodeConflict, "Esiste già una richiesta per questo codice fiscale.")
		}
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "submission not found")
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Submission, int, error) {
	where, args := buildWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM submissions` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions` + where +
		` ORDER BY submitted_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs := make([]*Submission, 0, filter.Limit)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	return subs, total, nil
}

func (s *PostgresStore) ExistsCodiceFiscale(ctx context.Context, cf string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE codice_fiscale = $1)`, cf,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check codice fiscale: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status Status) error {
	return s.updateColumn(ctx, id, `UPDATE submissions SET status = $2 WHERE id = $1`, string(status))
}

func (s *PostgresStore) UpdateNotes(ctx context.Context, id int64, notes string) error {
	return s.updateColumn(ctx, id, `UPDATE submissions SET notes = $2 WHERE id = $1`, notes)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	return checkAffected(res)
}

func (s *PostgresStore) updateColumn(ctx context.Context, id int64, query, value string) error {
	res, err := s.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "submission not found")
	}
	return nil
}

func buildWhere(filter ListFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(cognome ILIKE $%d OR nome ILIKE $%d OR codice_fiscale ILIKE $%d OR email ILIKE $%d)", n, n, n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	err := row.Scan(
		&sub.ID, &sub.Cognome, &sub.Nome, &sub.DataNascita, &sub.ComuneNascita, &sub.CodiceFiscale,
		&sub.ComuneResidenza, &sub.IndirizzoResidenza, &sub.Telefono, &sub.Email,
		&sub.FileName, &sub.FilePath, &sub.FileSize, &sub.IPAddress, &sub.UserAgent,
		&sub.SubmittedAt, &sub.Status, &sub.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

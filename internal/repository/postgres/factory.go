package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewRepositories(pool *pgxpool.Pool) repo.Set {
	return repo.Set{
		Merchants:     &merchantsRepo{pool},
		Transactions:  &transactionsRepo{pool},
		Shipments:     &shipmentsRepo{pool},
		CvsSelections: &cvsSelectionsRepo{pool},
		WebhookLogs:   &webhookLogsRepo{pool},
		AuditLogs:     &auditLogsRepo{pool},
	}
}

// mapErr converts driver errors into repository errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repo.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// setList builds the SET clause of a partial UPDATE.
type setList struct {
	cols []string
	args []any
}

func (s *setList) add(col string, v any) {
	s.args = append(s.args, v)
	s.cols = append(s.cols, fmt.Sprintf("%s=$%d", col, len(s.args)))
}

func (s *setList) arg(v any) string {
	s.args = append(s.args, v)
	return fmt.Sprintf("$%d", len(s.args))
}

func (s *setList) clause() string { return strings.Join(s.cols, ", ") }

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

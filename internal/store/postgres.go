package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/db"
	"github.com/sells-group/tender-cli/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	tendersTable = "construction_tenders"
	linesTable   = "construction_tender_lines"

	defaultListLimit = 100
)

var lineColumns = []string{
	"tender_id", "project_id", "sn", "line_id", "kind", "mode", "catalog_item_id",
	"name", "unit", "quantity", "unit_price", "amount", "pricing_source",
	"tax_snapshot", "breakdown", "needs_price",
}

const upsertTenderSQL = `INSERT INTO construction_tenders (
	id, project_id, tender_number, title, closing_date, status, currency, tax_profile_id,
	price_strategy_order, avg_window_days, prefer_same_project_price,
	total_amount, line_count, payload, created_by, last_edited_by, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET
	project_id = EXCLUDED.project_id,
	tender_number = EXCLUDED.tender_number,
	title = EXCLUDED.title,
	closing_date = EXCLUDED.closing_date,
	status = EXCLUDED.status,
	currency = EXCLUDED.currency,
	tax_profile_id = EXCLUDED.tax_profile_id,
	price_strategy_order = EXCLUDED.price_strategy_order,
	avg_window_days = EXCLUDED.avg_window_days,
	prefer_same_project_price = EXCLUDED.prefer_same_project_price,
	total_amount = EXCLUDED.total_amount,
	line_count = EXCLUDED.line_count,
	payload = EXCLUDED.payload,
	last_edited_by = EXCLUDED.last_edited_by,
	updated_at = EXCLUDED.updated_at
RETURNING id`

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresStore is the remote Backend. Each tender is a header row holding
// the full JSON payload plus one row per line for name search.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Backend = (*PostgresStore)(nil)

// NewPostgres connects a pool to connString and pings it.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	st, err := NewPostgresLazy(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := st.pool.(*pgxpool.Pool).Ping(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return st, nil
}

// NewPostgresLazy builds the pool without contacting the server. Connections
// are made on first use, so a database that is down at startup can recover
// later.
func NewPostgresLazy(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, such as a pgxmock pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Storage implements Backend.
func (s *PostgresStore) Storage() model.Storage {
	return model.StorageRemote
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, migrationFS, "migrations")
}

// Close releases the pool, if this store owns one.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Upsert writes the header and replaces every child line in one
// transaction.
func (s *PostgresStore) Upsert(ctx context.Context, id, projectID string, rec model.TenderRecord, now time.Time) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tender payload")
	}
	lineRows, err := lineCopyRows(id, projectID, rec.Lines)
	if err != nil {
		return err
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var storedID string
		err := tx.QueryRow(ctx, upsertTenderSQL,
			id, projectID, rec.TenderNumber, rec.Title, nullable(rec.ClosingDate), string(rec.Status),
			rec.Currency, nullable(rec.TaxProfileID), strategyNames(rec.PriceStrategyOrder),
			rec.AvgWindowDays, rec.PreferSameProjectPrice, rec.TotalAmount, len(rec.Lines),
			payload, nullable(rec.CreatedBy), nullable(rec.LastEditedBy), rec.CreatedAt, now.UTC(),
		).Scan(&storedID)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert tender %s", id)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM construction_tender_lines WHERE tender_id = $1`, storedID); err != nil {
			return eris.Wrapf(err, "postgres: delete lines of tender %s", storedID)
		}
		if _, err := db.CopyFrom(ctx, tx, linesTable, lineColumns, lineRows); err != nil {
			return eris.Wrapf(err, "postgres: insert lines of tender %s", storedID)
		}
		return nil
	})
}

// Get loads one tender from its stored payload.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.TenderDetail, error) {
	var (
		storedID  string
		projectID *string
		payload   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, payload FROM construction_tenders WHERE id = $1`, id,
	).Scan(&storedID, &projectID, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get tender %s", id)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var rec model.TenderRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal tender %s", id)
	}
	return &model.TenderDetail{
		ID:        storedID,
		ProjectID: deref(projectID),
		Tender:    model.NormalizeRecord(rec, time.Now()),
		Storage:   model.StorageRemote,
	}, nil
}

// List returns the newest tenders, optionally for one project.
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]model.TenderSummary, error) {
	query := `SELECT id, project_id, tender_number, title, status, currency, closing_date,
	total_amount, line_count, updated_at, payload->>'lastEditedBy'
FROM construction_tenders`
	var args []any
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(` WHERE project_id = $%d`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tenders")
	}
	defer rows.Close()

	var out []model.TenderSummary
	for rows.Next() {
		var (
			sum          model.TenderSummary
			projectID    *string
			status       string
			closingDate  *string
			lastEditedBy *string
		)
		if err := rows.Scan(&sum.ID, &projectID, &sum.TenderNumber, &sum.Title, &status, &sum.Currency,
			&closingDate, &sum.TotalAmount, &sum.LineCount, &sum.UpdatedAt, &lastEditedBy); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tender summary")
		}
		sum.ProjectID = deref(projectID)
		sum.Status = model.ParseTenderStatus(status)
		sum.ClosingDate = deref(closingDate)
		sum.LastEditedBy = deref(lastEditedBy)
		if sum.Currency == "" {
			sum.Currency = model.DefaultCurrency
		}
		sum.Storage = model.StorageRemote
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tenders iterate")
}

// SearchLines finds saved lines whose name contains q.Query, newest first.
func (s *PostgresStore) SearchLines(ctx context.Context, q SuggestionQuery) ([]model.LineSuggestion, error) {
	query := `SELECT l.id, l.name, COALESCE(l.unit, ''), l.quantity, l.unit_price, l.amount,
	COALESCE(t.updated_at, l.created_at), t.id, t.tender_number, t.currency
FROM construction_tender_lines l
JOIN construction_tenders t ON t.id = l.tender_id
WHERE l.name ILIKE $1`
	args := []any{"%" + escapeLike(strings.TrimSpace(q.Query)) + "%"}
	if q.ProjectID != "" {
		args = append(args, q.ProjectID)
		query += fmt.Sprintf(` AND l.project_id = $%d`, len(args))
	}
	args = append(args, max(q.Limit, 1))
	query += fmt.Sprintf(` ORDER BY l.created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search lines")
	}
	defer rows.Close()

	var out []model.LineSuggestion
	for rows.Next() {
		var (
			sg       model.LineSuggestion
			lastUsed time.Time
		)
		if err := rows.Scan(&sg.ID, &sg.Name, &sg.Unit, &sg.Quantity, &sg.UnitPrice, &sg.Amount,
			&lastUsed, &sg.TenderID, &sg.TenderNumber, &sg.Currency); err != nil {
			return nil, eris.Wrap(err, "postgres: scan line suggestion")
		}
		sg.LastUsedAt = &lastUsed
		sg.Storage = model.StorageRemote
		out = append(out, sg)
	}
	return out, eris.Wrap(rows.Err(), "postgres: search lines iterate")
}

// lineCopyRows maps lines to COPY rows in lineColumns order.
func lineCopyRows(tenderID, projectID string, lines []model.TenderLine) ([][]any, error) {
	rows := make([][]any, 0, len(lines))
	for i, l := range lines {
		var (
			mode      *string
			catalogID *string
			breakdown any
		)
		switch v := l.Variant.(type) {
		case nil:
		case model.ItemLine:
			catalogID = nullable(v.CatalogItemID)
		case model.SimpleServiceLine:
			mode = nullable(string(model.ServiceModeSimple))
		case model.NormsServiceLine:
			mode = nullable(string(model.ServiceModeNorms))
			b, err := json.Marshal(v.Breakdown)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: marshal breakdown of line %s", l.ID)
			}
			breakdown = b
		default:
			return nil, eris.Errorf("postgres: unknown line variant %T", v)
		}
		rows = append(rows, []any{
			tenderID, projectID, i + 1, l.ID, string(l.Kind()), mode, catalogID,
			l.Name, l.Unit, l.Quantity, l.UnitPrice, l.Amount(), nullable(l.PricingSource),
			l.TaxSnapshot, breakdown, l.NeedsPrice(),
		})
	}
	return rows, nil
}

func strategyNames(order []model.Strategy) []string {
	out := make([]string, len(order))
	for i, s := range order {
		out[i] = string(s)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

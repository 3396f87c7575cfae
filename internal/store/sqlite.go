package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"datahub/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ MarketStore = (*SQLiteStore)(nil)

// SQLiteStore implements MarketStore on a single SQLite table. It suits
// local backfills and tests; SQLite serialises writers, so concurrent days
// queue on the one connection rather than on each other's rows.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath writing to
// the given table.
func NewSQLiteStore(dbPath, table string) (*SQLiteStore, error) {
	if err := ValidateCollection(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, table: table}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

// EnsureSchema creates the table and its unique (date, symbol) index.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			date            TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			open            REAL,
			high            REAL,
			low             REAL,
			close           REAL,
			volume          REAL,
			pre_close       REAL,
			limit_up        REAL,
			limit_down      REAL,
			index_component TEXT,
			name            TEXT
		)`, s.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_date_symbol ON %s (date, symbol)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring %s schema: %w", s.table, err)
		}
	}
	return nil
}

// UpsertMarket writes records in one transaction with INSERT ... ON CONFLICT
// DO UPDATE on the (date, symbol) index.
func (s *SQLiteStore) UpsertMarket(ctx context.Context, records []domain.MarketRecord) (int, error) {
	records = dedupe(records)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL())
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Date, r.Symbol, r.Open, r.High, r.Low, r.Close, r.Volume, r.PreClose,
			nullFloat(r.LimitUp), nullFloat(r.LimitDown), nullString(r.IndexComponent), nullString(r.Name),
		)
		if err != nil {
			return 0, fmt.Errorf("upserting %s %s: %w", r.Date, r.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// MarketByDate returns the stored records of one day ordered by symbol.
func (s *SQLiteStore) MarketByDate(ctx context.Context, date string) ([]domain.MarketRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE date = ? ORDER BY symbol`, strings.Join(domain.MarketFields, ", "), s.table),
		date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MarketRecord
	for rows.Next() {
		var (
			r                  domain.MarketRecord
			limitUp, limitDown sql.NullFloat64
			tier, name         sql.NullString
		)
		if err := rows.Scan(&r.Date, &r.Symbol, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume, &r.PreClose,
			&limitUp, &limitDown, &tier, &name); err != nil {
			return nil, err
		}
		if limitUp.Valid {
			r.LimitUp = &limitUp.Float64
		}
		if limitDown.Valid {
			r.LimitDown = &limitDown.Float64
		}
		if tier.Valid {
			r.IndexComponent = &tier.String
		}
		if name.Valid {
			r.Name = &name.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) upsertSQL() string {
	cols := domain.MarketFields
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var updates []string
	for _, c := range cols {
		if c == "date" || c == "symbol" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (date, symbol) DO UPDATE SET %s`,
		s.table, strings.Join(cols, ", "), placeholders, strings.Join(updates, ", "))
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

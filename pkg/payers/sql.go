package payers

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

const (
	// DriverMySQL selects github.com/go-sql-driver/mysql.
	DriverMySQL = "mysql"
	// DriverPgx selects the database/sql adapter of github.com/jackc/pgx/v5.
	DriverPgx = "pgx"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options selects the payer table and the inquiry flag that marks a payer as
// usable for this kind of request.
type Options struct {
	Driver        string
	Table         string
	InquiryColumn string
	Logger        *zap.Logger
}

// DefaultOptions returns options for the eligibility payer table.
func DefaultOptions() Options {
	return Options{
		Driver:        DriverMySQL,
		Table:         "StediPayers",
		InquiryColumn: "EligibilityInquiry",
	}
}

// Open opens a database handle for the given driver and verifies connectivity.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverMySQL, DriverPgx:
	default:
		return nil, sdkerrors.NewConfigError(fmt.Sprintf("unsupported payer database driver %q", driver), nil)
	}
	if dsn == "" {
		return nil, sdkerrors.NewConfigError("payer database dsn is required", nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open payer database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping payer database: %w", err)
	}
	return db, nil
}

// LoadSQL reads every payer with the inquiry flag set and returns a snapshot.
func LoadSQL(ctx context.Context, db *sql.DB, opts Options) (*Directory, error) {
	if opts.Table == "" {
		opts.Table = DefaultOptions().Table
	}
	if opts.InquiryColumn == "" {
		opts.InquiryColumn = DefaultOptions().InquiryColumn
	}
	if !identifier.MatchString(opts.Table) || !identifier.MatchString(opts.InquiryColumn) {
		return nil, sdkerrors.NewConfigError("invalid payer table or column name", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rows, err := db.QueryContext(ctx, selectQuery(opts))
	if err != nil {
		return nil, fmt.Errorf("query payers: %w", err)
	}
	defer rows.Close()

	var payers []Payer
	for rows.Next() {
		var (
			id, display string
			aliases     sql.NullString
		)
		if err := rows.Scan(&id, &display, &aliases); err != nil {
			return nil, fmt.Errorf("scan payer: %w", err)
		}
		payers = append(payers, Payer{ID: id, DisplayName: display, Aliases: aliases.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payers: %w", err)
	}

	dir := NewDirectory(payers)
	logger.Info("Loaded payer directory",
		zap.String("table", opts.Table),
		zap.String("filter", opts.InquiryColumn),
		zap.Int("payers", dir.Len()))
	return dir, nil
}

func selectQuery(opts Options) string {
	flag := opts.InquiryColumn + " = 1"
	if opts.Driver == DriverPgx {
		flag = opts.InquiryColumn + " IS TRUE"
	}
	return fmt.Sprintf("SELECT PayerId, DisplayName, Aliases FROM %s WHERE %s", opts.Table, flag)
}

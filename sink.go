package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ResultSink stores finished rounds somewhere other than the console.
type ResultSink interface {
	SaveRound(ctx context.Context, r *Round) error
	Close() error
}

const createResultsTable = `CREATE TABLE IF NOT EXISTS transfer_results (
	id INT AUTO_INCREMENT PRIMARY KEY,
	round_id CHAR(36) NOT NULL,
	server VARCHAR(64) NOT NULL,
	transfer_id INT NOT NULL,
	kind VARCHAR(8) NOT NULL,
	requested BIGINT UNSIGNED NOT NULL,
	bytes_received BIGINT UNSIGNED NOT NULL,
	elapsed_us BIGINT NOT NULL,
	speed_bps DOUBLE NULL,
	loss_pct DOUBLE NULL,
	error TEXT NULL,
	time DATETIME(6) NOT NULL,
	INDEX (round_id)
)`

const insertResult = `INSERT INTO transfer_results
	(round_id, server, transfer_id, kind, requested, bytes_received, elapsed_us, speed_bps, loss_pct, error, time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type sqlSink struct {
	db *sql.DB
}

// openMySQLSink connects with a go-sql-driver DSN such as
// "user:pass@tcp(host:3306)/speedtest" and creates the results table.
func openMySQLSink(ctx context.Context, dsn string) (*sqlSink, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(conn)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &sqlSink{db: db}, nil
}

func (s *sqlSink) SaveRound(ctx context.Context, r *Round) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, insertResult)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range r.Records {
		if _, err := stmt.ExecContext(ctx, recordRow(r, rec)...); err != nil {
			return fmt.Errorf("insert transfer #%d: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlSink) Close() error { return s.db.Close() }

// recordRow lines up with the insertResult placeholders. Undefined speed and
// stream loss are stored as NULL.
func recordRow(r *Round, rec Record) []any {
	speed := sql.NullFloat64{Float64: rec.SpeedBps, Valid: rec.SpeedValid}
	loss := sql.NullFloat64{Float64: rec.LossPct, Valid: rec.HasLoss}
	var errText sql.NullString
	if rec.Err != nil {
		errText = sql.NullString{String: rec.Err.Error(), Valid: true}
	}
	return []any{
		r.ID, r.Server.String(), rec.ID, rec.Kind.String(),
		rec.Requested, rec.BytesReceived, rec.Elapsed.Microseconds(),
		speed, loss, errText, r.Started.UTC(),
	}
}

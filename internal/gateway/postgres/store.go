// Package postgres реализует gateway.Tables напрямую поверх PostgreSQL.
// Каждый вызов идёт в своей транзакции, которая сначала выставляет claims вызывающего
// в request.jwt.claims, поэтому действуют те же политики RLS, что и на хостинге.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/lib/pq"
	"github.com/linemk/naijahub/internal/auth"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
)

var _ gateway.Tables = (*Store)(nil)

const setClaimsQuery = `SELECT set_config('request.jwt.claims', $1, true)`

type Store struct {
	log *slog.Logger
	db  *sql.DB
}

func New(log *slog.Logger, db *sql.DB) *Store {
	return &Store{
		log: log.With(slog.String("component", "gateway/postgres")),
		db:  db,
	}
}

// Open подключается к БД и проверяет соединение.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (s *Store) Select(ctx context.Context, q gateway.Query, dest any) error {
	const op = "postgres.Store.Select"

	var b builder
	query, err := b.selectSQL(q)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}

	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		return queryJSON(ctx, tx, query, b.args, dest)
	})
}

func (s *Store) Insert(ctx context.Context, table string, rows any, dest any) error {
	const op = "postgres.Store.Insert"

	records, err := toRecords(rows)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}

	var b builder
	query, err := b.insertSQL(table, records)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}

	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		return queryJSON(ctx, tx, query, b.args, dest)
	})
}

func (s *Store) Update(ctx context.Context, table string, f gateway.Filter, patch any, dest any) error {
	const op = "postgres.Store.Update"

	if f.Empty() {
		return gateway.NewQueryError(op, gateway.ErrUnfilteredWrite)
	}
	records, err := toRecords(patch)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}
	if len(records) != 1 {
		return gateway.NewQueryError(op, errors.New("patch must be a single object"))
	}

	var b builder
	query, err := b.updateSQL(table, f, records[0])
	if err != nil {
		return gateway.NewQueryError(op, err)
	}

	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		return queryJSON(ctx, tx, query, b.args, dest)
	})
}

func (s *Store) Delete(ctx context.Context, table string, f gateway.Filter) error {
	const op = "postgres.Store.Delete"

	if f.Empty() {
		return gateway.NewQueryError(op, gateway.ErrUnfilteredWrite)
	}

	var b builder
	query, err := b.deleteSQL(table, f)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}

	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, b.args...)
		return err
	})
}

type claims struct {
	Sub  string `json:"sub,omitempty"`
	Role string `json:"role"`
}

func claimsFor(ctx context.Context) string {
	c := claims{Role: auth.RoleAnon}
	if id, ok := auth.FromContext(ctx); ok {
		c = claims{Sub: id.UserID, Role: id.Role}
		if c.Role == "" {
			c.Role = auth.RoleAuthenticated
		}
	}
	data, _ := json.Marshal(c)
	return string(data)
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}

	rollback := func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("transaction rollback failed", slog.String("op", op), logger.Err(rbErr))
		}
	}

	if _, err := tx.ExecContext(ctx, setClaimsQuery, claimsFor(ctx)); err != nil {
		rollback()
		return classify(op, err)
	}

	if err := fn(tx); err != nil {
		rollback()
		return classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

// queryJSON собирает по JSON документу на строку в массив и декодирует его в dest.
func queryJSON(ctx context.Context, tx *sql.Tx, query string, args []any, dest any) error {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	docs := make([]json.RawMessage, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		docs = append(docs, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if dest == nil {
		return nil
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &gateway.Error{Kind: gateway.KindQuery, Err: fmt.Errorf("decode rows: %w", err)}
	}
	return nil
}

func classify(op string, err error) error {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		if gerr.Op == "" {
			gerr.Op = op
		}
		return gerr
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		kind := gateway.KindQuery
		switch {
		case pqErr.Code == "42501", pqErr.Code.Class() == "28":
			kind = gateway.KindAuth
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			kind = gateway.KindNetwork
		}
		return &gateway.Error{Kind: kind, Op: op, Code: string(pqErr.Code), Message: pqErr.Message, Err: err}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return &gateway.Error{Kind: gateway.KindNetwork, Op: op, Err: err}
	}

	return &gateway.Error{Kind: gateway.KindQuery, Op: op, Err: err}
}

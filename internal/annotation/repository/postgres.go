package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
	"annotationstore/pkg/logger"
)

// PostgresIndex stores each index type as a table of JSONB documents.
type PostgresIndex struct {
	DB *sql.DB
}

func NewPostgresIndex(db *sql.DB) *PostgresIndex {
	return &PostgresIndex{DB: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *PostgresIndex) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (r *PostgresIndex) Put(ctx context.Context, typ Type, id string, source []byte, refresh model.RefreshPolicy) error {
	m, err := mappingFor(typ)
	if err != nil {
		return err
	}
	sqlStr, args, err := r.qb().Insert(m.table).
		Columns("id", "body").
		Values(id, sq.Expr("?::jsonb", string(source))).
		Suffix("ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()").
		ToSql()
	if err != nil {
		return err
	}

	if refresh == model.RefreshImmediate {
		if _, err := r.DB.ExecContext(ctx, sqlStr, args...); err != nil {
			logger.Sugar.Errorf("Failed to put %s %s: %v", typ, id, err)
			return indexErr("put", err)
		}
		return nil
	}

	// Eventual writes skip waiting for the WAL flush.
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		logger.Sugar.Errorf("Failed to begin put of %s %s: %v", typ, id, err)
		return indexErr("begin", err)
	}
	if err := r.putTx(ctx, tx, sqlStr, args); err != nil {
		_ = tx.Rollback()
		logger.Sugar.Errorf("Failed to put %s %s: %v", typ, id, err)
		return indexErr("put", err)
	}
	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit put of %s %s: %v", typ, id, err)
		return indexErr("commit", err)
	}
	return nil
}

func (r *PostgresIndex) putTx(ctx context.Context, tx execer, sqlStr string, args []interface{}) error {
	if _, err := tx.ExecContext(ctx, "SET LOCAL synchronous_commit TO OFF"); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *PostgresIndex) Get(ctx context.Context, typ Type, id string) ([]byte, error) {
	m, err := mappingFor(typ)
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := r.qb().Select("body").From(m.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var body []byte
	err = r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", model.ErrNotFound, typ, id)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get %s %s: %v", typ, id, err)
		return nil, indexErr("get", err)
	}
	return body, nil
}

func (r *PostgresIndex) Delete(ctx context.Context, typ Type, id string) error {
	m, err := mappingFor(typ)
	if err != nil {
		return err
	}
	sqlStr, args, err := r.qb().Delete(m.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete %s %s: %v", typ, id, err)
		return indexErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return indexErr("delete", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, typ, id)
	}
	return nil
}

func (r *PostgresIndex) Search(ctx context.Context, typ Type, req *query.Request) (*query.Result, error) {
	m, err := mappingFor(typ)
	if err != nil {
		return nil, err
	}
	t := translator{m: m}
	cond, err := t.where(req.Query)
	if err != nil {
		return nil, err
	}

	total, err := r.count(ctx, typ, m, cond)
	if err != nil {
		return nil, err
	}

	sb := r.qb().Select("id", "body").From(m.table).Where(cond)
	for _, s := range req.Sort {
		clause, arg, err := t.orderBy(s)
		if err != nil {
			return nil, err
		}
		sb = sb.OrderByClause(clause, arg)
	}
	sb = sb.OrderBy("id")
	if req.Size >= 0 {
		sb = sb.Limit(uint64(req.Size))
	}
	if req.From > 0 {
		sb = sb.Offset(uint64(req.From))
	}
	sqlStr, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to search %s: %v", typ, err)
		return nil, indexErr("search", err)
	}
	defer rows.Close()

	res := &query.Result{Total: total, Hits: []query.Hit{}}
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			logger.Sugar.Errorf("Failed to scan %s hit: %v", typ, err)
			return nil, indexErr("scan", err)
		}
		source, err := project(body, req.Fields)
		if err != nil {
			return nil, err
		}
		res.Hits = append(res.Hits, query.Hit{ID: id, Source: source})
	}
	if err := rows.Err(); err != nil {
		logger.Sugar.Errorf("Failed to read %s hits: %v", typ, err)
		return nil, indexErr("search", err)
	}
	return res, nil
}

func (r *PostgresIndex) Count(ctx context.Context, typ Type, q query.Query) (int64, error) {
	m, err := mappingFor(typ)
	if err != nil {
		return 0, err
	}
	cond, err := translator{m: m}.where(q)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, typ, m, cond)
}

func (r *PostgresIndex) count(ctx context.Context, typ Type, m *mapping, cond sq.Sqlizer) (int64, error) {
	sqlStr, args, err := r.qb().Select("count(*)").From(m.table).Where(cond).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		logger.Sugar.Errorf("Failed to count %s: %v", typ, err)
		return 0, indexErr("count", err)
	}
	return n, nil
}

// indexErr classifies a database failure by the status an HTTP index
// service would have reported for it.
func indexErr(op string, err error) error {
	status := 0
	var pqErr *pq.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = 499
	case errors.As(err, &pqErr):
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			status = http.StatusServiceUnavailable
		case "22", "42":
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		status = http.StatusServiceUnavailable
	}
	return &model.IndexError{Status: status, Err: fmt.Errorf("%s: %w", op, err)}
}

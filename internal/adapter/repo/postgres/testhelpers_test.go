package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a fixed list of scan callbacks.
type rowsStub struct {
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (r *rowsStub) Next() bool {
	r.idx++
	return r.idx <= len(r.scans)
}
func (r *rowsStub) Scan(dest ...any) error                   { return r.scans[r.idx-1](dest...) }
func (r *rowsStub) Close()                                   {}
func (r *rowsStub) Err() error                               { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag            { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                   { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                      { return nil }
func (r *rowsStub) Conn() *pgx.Conn                          { return nil }

// poolStub implements postgres.PgxPool for tests without a live database.
// Exec calls are recorded so assertions can inspect statements and args.
type poolStub struct {
	execErr  error
	execSQL  []string
	execArgs [][]any
	row      rowStub
	rowFn    func(sql string, args []any) rowStub
	rows     *rowsStub
	queryErr error
	tx       *txStub
	beginErr error
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.rowFn != nil {
		return p.rowFn(sql, args)
	}
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		return &txStub{}, nil
	}
	return p.tx, nil
}

// txStub implements pgx.Tx; only the members the repos touch do real work.
type txStub struct {
	execErr    error
	execSQL    []string
	execArgs   [][]any
	rowFn      func(sql string, args []any) rowStub
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *txStub) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }
func (t *txStub) Commit(_ context.Context) error {
	t.committed = true
	return t.commitErr
}
func (t *txStub) Rollback(_ context.Context) error {
	t.rolledBack = true
	return nil
}
func (t *txStub) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *txStub) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *txStub) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	t.execArgs = append(t.execArgs, args)
	return pgconn.CommandTag{}, t.execErr
}
func (t *txStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return &rowsStub{}, nil
}
func (t *txStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if t.rowFn != nil {
		return t.rowFn(sql, args)
	}
	return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
}
func (t *txStub) Conn() *pgx.Conn { return nil }

// questionScan writes q into scan destinations in questionColumns order.
func questionScan(q domain.Question) func(dest ...any) error {
	return func(dest ...any) error {
		srcRaw, _ := json.Marshal(q.SourceURLs)
		*(dest[0].(*string)) = q.ID
		*(dest[1].(*string)) = q.Text
		*(dest[2].(*string)) = q.Category
		*(dest[3].(*string)) = q.Difficulty
		*(dest[4].(*string)) = q.ReferenceAnswer
		*(dest[5].(*[]byte)) = srcRaw
		*(dest[6].(*string)) = q.AudioURL
		*(dest[7].(*string)) = q.TopicID
		*(dest[8].(*string)) = q.ParentQuestionID
		*(dest[9].(*domain.QueueType)) = q.QueueType
		*(dest[10].(*string)) = q.UserAnswer
		*(dest[11].(**int)) = q.Correctness
		*(dest[12].(**time.Time)) = q.AskedAt
		return nil
	}
}

// sessionScan writes s into scan destinations in sessionColumns order.
func sessionScan(s domain.Session) func(dest ...any) error {
	return func(dest ...any) error {
		jobRaw, _ := json.Marshal(s.Job)
		resumeRaw, _ := json.Marshal(s.Resume)
		*(dest[0].(*string)) = s.ID
		*(dest[1].(*domain.SessionStatus)) = s.Status
		*(dest[2].(*[]byte)) = jobRaw
		*(dest[3].(*[]byte)) = resumeRaw
		*(dest[4].(*int)) = s.ChunkSize
		*(dest[5].(*time.Time)) = s.Deadline
		*(dest[6].(*time.Time)) = s.CreatedAt
		*(dest[7].(*time.Time)) = s.UpdatedAt
		*(dest[8].(**time.Time)) = s.CompletedAt
		return nil
	}
}

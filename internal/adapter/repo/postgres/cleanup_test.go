package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/repo/postgres"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

type fakeTx struct {
	commitErr  error
	rowErr     error
	sessionIDs []string
	sqls       []string
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	t.sqls = append(t.sqls, sql)
	return rowStub{scan: func(dest ...any) error {
		if t.rowErr != nil {
			return t.rowErr
		}
		switch d := dest[0].(type) {
		case *[]string:
			*d = t.sessionIDs
		case *int64:
			*d = 1
		}
		return nil
	}}
}
func (t *fakeTx) Commit(_ context.Context) error   { return t.commitErr }
func (t *fakeTx) Rollback(_ context.Context) error { return nil }

type fakeBeginner struct {
	beginErr error
	tx       *fakeTx
}

func (b *fakeBeginner) Begin(_ context.Context) (postgres.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

type fakeBlobs struct {
	prefixes  []string
	prefixErr error
}

func (f *fakeBlobs) Put(_ domain.Context, key string, _ []byte, _ string) (string, error) {
	return "http://blobs/" + key, nil
}
func (f *fakeBlobs) Delete(_ domain.Context, _ string) error { return nil }
func (f *fakeBlobs) DeleteByPrefix(_ domain.Context, prefix string) error {
	f.prefixes = append(f.prefixes, prefix)
	return f.prefixErr
}

func TestCleanupService_CleanupOldData_OK(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	svc := postgres.NewCleanupService(b, nil, 1)
	if err := svc.CleanupOldData(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	// One retention delete for sessions, one for rate limit buckets.
	if len(b.tx.sqls) != 2 {
		t.Fatalf("expected 2 deletes, got %d", len(b.tx.sqls))
	}
}

func TestCleanupService_DropsAudioForDeletedSessions(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{sessionIDs: []string{"01AAA", "01BBB"}}}
	blobs := &fakeBlobs{}
	svc := postgres.NewCleanupService(b, blobs, 1)
	if err := svc.CleanupOldData(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(blobs.prefixes) != 2 || blobs.prefixes[0] != "01AAA/" || blobs.prefixes[1] != "01BBB/" {
		t.Fatalf("expected per-session audio prefixes, got %v", blobs.prefixes)
	}
}

func TestCleanupService_BlobErrorsAreTolerated(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{sessionIDs: []string{"01AAA"}}}
	blobs := &fakeBlobs{prefixErr: errors.New("fs")}
	svc := postgres.NewCleanupService(b, blobs, 1)
	if err := svc.CleanupOldData(context.Background()); err != nil {
		t.Fatalf("cleanup should tolerate blob errors: %v", err)
	}
}

func TestCleanupService_DefaultRetention(t *testing.T) {
	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, nil, 0)
	if svc.RetentionDays != 90 {
		t.Fatalf("expected default retention 90, got %d", svc.RetentionDays)
	}
}

func TestCleanupService_BeginError(t *testing.T) {
	b := &fakeBeginner{beginErr: errors.New("begin")}
	svc := postgres.NewCleanupService(b, nil, 1)
	if err := svc.CleanupOldData(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCleanupService_RowErrorsAreTolerated(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{rowErr: errors.New("count")}}
	svc := postgres.NewCleanupService(b, nil, 1)
	if err := svc.CleanupOldData(context.Background()); err != nil {
		t.Fatalf("cleanup should tolerate count errors: %v", err)
	}
}

func TestCleanupService_CommitError(t *testing.T) {
	t.Helper()
	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("commit")}}
	svc := postgres.NewCleanupService(b, nil, 1)
	if err := svc.CleanupOldData(context.Background()); err == nil {
		t.Fatalf("expected commit error")
	}
}

func TestCleanupService_RunPeriodic_ImmediateCancel(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, nil, 1)
	// Ensure it returns when context is canceled quickly
	go svc.RunPeriodic(ctx, 0)
}

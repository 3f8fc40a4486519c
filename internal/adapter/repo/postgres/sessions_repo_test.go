package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/repo/postgres"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

func testSession() domain.Session {
	return domain.Session{
		ID:     "sess-1",
		Status: domain.SessionActive,
		Job: domain.JobContext{
			Title:     "Backend Engineer",
			Seniority: "senior",
			TechStack: []string{"go", "postgres"},
		},
		Resume: domain.ResumeContext{
			Skills:      []string{"go", "kafka"},
			WorkHistory: []string{"8 years building services"},
		},
		ChunkSize: 5,
		Deadline:  time.Now().Add(time.Hour).UTC(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestSessionRepo_Create(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSessionRepo(pool)
	ctx := context.Background()

	id, err := repo.Create(ctx, testSession())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "INSERT INTO sessions")

	// Job context travels as JSON.
	var job domain.JobContext
	require.NoError(t, json.Unmarshal(pool.execArgs[0][2].([]byte), &job))
	assert.Equal(t, "Backend Engineer", job.Title)

	pool.execErr = assert.AnError
	_, err = repo.Create(ctx, testSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.create")
}

func TestSessionRepo_Create_GeneratesID(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSessionRepo(pool)

	s := testSession()
	s.ID = ""
	s.Status = ""
	id, err := repo.Create(context.Background(), s)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	// Blank status defaults to active.
	assert.Equal(t, domain.SessionActive, pool.execArgs[0][1])
}

func TestSessionRepo_Get(t *testing.T) {
	want := testSession()
	pool := &poolStub{row: rowStub{scan: sessionScan(want)}}
	repo := postgres.NewSessionRepo(pool)

	got, err := repo.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, domain.SessionActive, got.Status)
	assert.Equal(t, []string{"go", "postgres"}, got.Job.TechStack)
	assert.Equal(t, []string{"go", "kafka"}, got.Resume.Skills)
}

func TestSessionRepo_Get_NotFound(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewSessionRepo(pool)

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "op=session.get")
}

func TestSessionRepo_Get_ScanError(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return assert.AnError }}}
	repo := postgres.NewSessionRepo(pool)

	_, err := repo.Get(context.Background(), "sess-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepo_MarkComplete(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSessionRepo(pool)

	require.NoError(t, repo.MarkComplete(context.Background(), "sess-1"))
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "UPDATE sessions")
	assert.Equal(t, domain.SessionCompleted, pool.execArgs[0][1])

	pool.execErr = assert.AnError
	err := repo.MarkComplete(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.mark_complete")
}

func TestSessionRepo_ListExpired(t *testing.T) {
	a := testSession()
	b := testSession()
	b.ID = "sess-2"
	pool := &poolStub{rows: &rowsStub{scans: []func(dest ...any) error{sessionScan(a), sessionScan(b)}}}
	repo := postgres.NewSessionRepo(pool)

	out, err := repo.ListExpired(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "sess-1", out[0].ID)
	assert.Equal(t, "sess-2", out[1].ID)
}

func TestSessionRepo_ListExpired_Errors(t *testing.T) {
	repo := postgres.NewSessionRepo(&poolStub{queryErr: assert.AnError})
	_, err := repo.ListExpired(context.Background(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.list_expired")

	repo = postgres.NewSessionRepo(&poolStub{rows: &rowsStub{
		scans: []func(dest ...any) error{func(_ ...any) error { return assert.AnError }},
	}})
	_, err = repo.ListExpired(context.Background(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.list_expired_scan")

	repo = postgres.NewSessionRepo(&poolStub{rows: &rowsStub{err: assert.AnError}})
	_, err = repo.ListExpired(context.Background(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.list_expired_rows")
}

func TestSessionRepo_SaveQueueState(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSessionRepo(pool)

	st := domain.QueueState{
		Primary: []domain.Question{{ID: "q1", Text: "What is a goroutine?", Category: "technical", QueueType: domain.QueuePrimary}},
		Depth:   []domain.Question{{ID: "q1_medium", Text: "How are goroutines scheduled?", QueueType: domain.QueueDepth}},
	}
	require.NoError(t, repo.SaveQueueState(context.Background(), "sess-1", st))
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "ON CONFLICT (session_id)")

	var round domain.QueueState
	require.NoError(t, json.Unmarshal(pool.execArgs[0][1].([]byte), &round))
	require.Len(t, round.Primary, 1)
	assert.Equal(t, "q1", round.Primary[0].ID)
	require.Len(t, round.Depth, 1)
	assert.Equal(t, "q1_medium", round.Depth[0].ID)

	pool.execErr = assert.AnError
	err := repo.SaveQueueState(context.Background(), "sess-1", st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.save_queue_state")
}

func TestSessionRepo_LoadQueueState(t *testing.T) {
	st := domain.QueueState{Primary: []domain.Question{{ID: "q1", Text: "What is a goroutine?"}}}
	raw, err := json.Marshal(st)
	require.NoError(t, err)

	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*[]byte)) = raw
		return nil
	}}}
	repo := postgres.NewSessionRepo(pool)

	got, err := repo.LoadQueueState(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, got.Primary, 1)
	assert.Equal(t, "q1", got.Primary[0].ID)
}

func TestSessionRepo_LoadQueueState_NotFound(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewSessionRepo(pool)

	_, err := repo.LoadQueueState(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepo_LoadQueueState_BadJSON(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*[]byte)) = []byte("{not json")
		return nil
	}}}
	repo := postgres.NewSessionRepo(pool)

	_, err := repo.LoadQueueState(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.load_queue_state")
}

package task

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/pipeline"
)

var jobColumns = []string{
	"id", "trigger_source", "documents_dir", "knowledge_base_name", "status", "attempts", "max_retries",
	"last_error", "error_code", "result", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS setup_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewMySQLStoreWithDB(context.Background(), db)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return store, mock
}

func TestMySQLStoreCreate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO setup_jobs")).
		WithArgs("job-1", TriggerStartup, "./documents", "kb", "pending", 0, 1, int64(1_700_000_000), int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := &Task{
		ID:         "job-1",
		Trigger:    TriggerStartup,
		Request:    pipeline.Request{DocumentsDir: "./documents", KnowledgeBaseName: "kb"},
		Status:     StatusPending,
		MaxRetries: 1,
	}
	require.NoError(t, store.Create(context.Background(), task))
	assert.Equal(t, int64(1_700_000_000), task.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO setup_jobs")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.Create(context.Background(), &Task{ID: "job-1", Status: StatusPending})
	require.ErrorIs(t, err, ErrTaskConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreGetDecodesResult(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows(jobColumns).
		AddRow("job-1", "api", "./docs", "kb", "succeeded", 1, 1, "", "",
			`{"knowledge_base_id":"kb-9","knowledge_base_name":"kb","uploaded":["a.pdf"],"passport_uploaded":false,"ready":true,"checks":3,"elapsed_ms":2000}`,
			int64(10), int64(20))
	mock.ExpectQuery(regexp.QuoteMeta("FROM setup_jobs WHERE id = ?")).WithArgs("job-1").WillReturnRows(rows)

	task, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "kb-9", task.Result.KnowledgeBaseID)
	assert.True(t, task.Result.Ready)
	assert.Equal(t, []string{"a.pdf"}, task.Result.Uploaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreGetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM setup_jobs WHERE id = ?")).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMySQLStoreClaim(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE setup_jobs SET status = ?, attempts = attempts + 1")).
		WithArgs("running", int64(1_700_000_000), "job-1", "pending", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM setup_jobs WHERE id = ?")).WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "api", "", "", "running", 1, 1, nil, "", nil, int64(10), int64(20)))

	task, err := store.Claim(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Nil(t, task.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreClaimCompleted(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE setup_jobs SET status = ?, attempts = attempts + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM setup_jobs WHERE id = ?")).WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "api", "", "", "succeeded", 1, 1, "", "", "", int64(10), int64(20)))

	_, err := store.Claim(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrTaskCompleted)
}

func TestMySQLStoreClaimExhausted(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE setup_jobs SET status = ?, attempts = attempts + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM setup_jobs WHERE id = ?")).WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "api", "", "", "failed", 2, 2, "boom", "TRANSPORT", nil, int64(10), int64(20)))

	_, err := store.Claim(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrTaskExhausted)
}

func TestMySQLStoreMarkSucceeded(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE setup_jobs SET status = ?, knowledge_base_id = ?, result = ?")).
		WithArgs("succeeded", "kb-1", sqlmock.AnyArg(), int64(1_700_000_000), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkSucceeded(context.Background(), "job-1", pipeline.Result{KnowledgeBaseID: "kb-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreMarkFailedTerminal(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("max_retries = LEAST(max_retries, attempts) WHERE id = ?")).
		WithArgs("failed", "boom", "TRANSPORT", int64(1_700_000_000), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkFailed(context.Background(), "job-1", xerrors.CodeTransport, "boom", true))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE setup_jobs SET status = ?, last_error = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, store.MarkFailed(context.Background(), "gone", xerrors.CodeTransport, "boom", false), ErrTaskNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreListWithFilters(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM setup_jobs WHERE status IN (?) AND knowledge_base_id <> '' AND (id LIKE ?")).
		WithArgs("succeeded", "%kb%", "%kb%", "%kb%", "%kb%", "%kb%", 5, 0).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-2", "api", "", "kb", "succeeded", 1, 1, "", "", `{"knowledge_base_id":"kb-2"}`, int64(10), int64(30)).
			AddRow("job-1", "startup", "", "kb", "succeeded", 1, 1, "", "", `{"knowledge_base_id":"kb-1"}`, int64(5), int64(20)))

	opts := buildListOptions([]ListOption{WithStatuses(StatusSucceeded), WithResultPresence(true), WithQuery("kb"), WithLimit(5)})
	tasks, err := store.List(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-2", "job-1"}, taskIDs(tasks))
	assert.Equal(t, "kb-1", tasks[1].Result.KnowledgeBaseID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreStats(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS total")).
		WithArgs("pending", "running", "succeeded", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "running", "succeeded", "failed", "oldest", "newest"}).
			AddRow(4, 1, 1, 1, 1, int64(10), int64(40)))

	stats, err := store.Stats(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStats{Total: 4, Pending: 1, Running: 1, Succeeded: 1, Failed: 1, OldestUpdatedAt: 10, NewestUpdatedAt: 40}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placelists/placelists/internal/platform/telemetry"
)

// recordingDB implements database.Querier and counts inserted rows.
type recordingDB struct {
	mu      sync.Mutex
	batches int
	rows    int
	err     error
}

func (m *recordingDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return pgconn.CommandTag{}, m.err
	}
	m.batches++
	m.rows += len(args) / 3
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *recordingDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *recordingDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (m *recordingDB) counts() (batches, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches, m.rows
}

func newTestLogger(db *recordingDB, cfg LoggerConfig) *AsyncLogger {
	cfg.Logger = telemetry.NopLogger()
	return NewAsyncLogger(db, NewStore(), cfg)
}

func TestAsyncLogger_FlushesOnInterval(t *testing.T) {
	db := &recordingDB{}
	logger := newTestLogger(db, LoggerConfig{BufferSize: 100, BatchSize: 10, FlushInterval: 20 * time.Millisecond})
	defer logger.Close()

	logger.Log(context.Background(), Event{Action: ActionLogin})

	assert.Eventually(t, func() bool {
		_, rows := db.counts()
		return rows == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAsyncLogger_FlushesOnBatchSize(t *testing.T) {
	db := &recordingDB{}
	logger := newTestLogger(db, LoggerConfig{BufferSize: 100, BatchSize: 3, FlushInterval: time.Hour})
	defer logger.Close()

	for i := 0; i < 3; i++ {
		logger.Log(context.Background(), Event{Action: ActionTokenRefreshed})
	}

	assert.Eventually(t, func() bool {
		batches, rows := db.counts()
		return batches == 1 && rows == 3
	}, time.Second, 10*time.Millisecond)
}

func TestAsyncLogger_CloseWritesPending(t *testing.T) {
	db := &recordingDB{}
	logger := newTestLogger(db, LoggerConfig{BufferSize: 100, BatchSize: 50, FlushInterval: time.Hour})

	logger.Log(context.Background(), Event{Action: ActionLogout})
	logger.Log(context.Background(), Event{Action: ActionLogin})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	_, rows := db.counts()
	assert.Equal(t, 2, rows)
}

func TestAsyncLogger_DropsWhenBufferFull(t *testing.T) {
	db := &recordingDB{}
	logger := newTestLogger(db, LoggerConfig{BufferSize: 2, BatchSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		logger.Log(context.Background(), Event{Action: ActionLoginFailed})
	}
	require.NoError(t, logger.Close())

	// Every event is either written or counted as dropped.
	_, rows := db.counts()
	assert.Equal(t, 10, rows+int(logger.Dropped()))
}

func TestAsyncLogger_StoreFailureDoesNotStopWorker(t *testing.T) {
	db := &recordingDB{err: errors.New("connection refused")}
	logger := newTestLogger(db, LoggerConfig{BufferSize: 10, BatchSize: 1, FlushInterval: time.Hour})

	logger.Log(context.Background(), Event{Action: ActionLogin})
	logger.Log(context.Background(), Event{Action: ActionLogout})
	require.NoError(t, logger.Close())

	batches, _ := db.counts()
	assert.Zero(t, batches)
}

package checkpoint_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
)

func TestPostgresStore_InitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := checkpoint.NewPostgresStoreWithPool(mock, "")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"inserted", 1, nil},
		{"conflict", 0, checkpoint.ErrCheckpointExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			store := checkpoint.NewPostgresStoreWithPool(mock, "checkpoints")
			cp := newCheckpoint("agent-1", checkpoint.StepN(3), "three")

			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
				WithArgs("agent-1", int64(3), cp.ID, pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			err = store.Append(context.Background(), cp)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := checkpoint.NewPostgresStoreWithPool(mock, "checkpoints")
	data := []byte(`{"id":"cp-1"}`)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM checkpoints WHERE agent_id = $1 AND step_key = $2")).
		WithArgs("agent-1", int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	loaded, err := store.Load(context.Background(), "agent-1", checkpoint.StepN(9))
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := checkpoint.NewPostgresStoreWithPool(mock, "checkpoints")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM checkpoints")).
		WithArgs("agent-1", int64(1)).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Load(context.Background(), "agent-1", checkpoint.StepN(1))
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := checkpoint.NewPostgresStoreWithPool(mock, "checkpoints")
	now := time.Now().UTC()
	final := checkpoint.Final()

	rows := pgxmock.NewRows([]string{"step_key", "id", "timestamp", "octet_length"}).
		AddRow(int64(1), "cp-1", now, int64(10)).
		AddRow(final.SortKey(), "cp-final", now, int64(20))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT step_key, id, timestamp, octet_length(data)")).
		WithArgs("agent-1").
		WillReturnRows(rows)

	infos, err := store.List(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, checkpoint.StepN(1), infos[0].Step)
	assert.Equal(t, "cp-1", infos[0].ID)
	assert.Equal(t, int64(10), infos[0].Size)
	assert.True(t, infos[1].Step.IsFinal())
	assert.Equal(t, "agent-1", infos[1].AgentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Closed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	store := checkpoint.NewPostgresStoreWithPool(mock, "checkpoints")
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Append(context.Background(), newCheckpoint("agent-1", checkpoint.StepN(1), "x"))
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

	_, err = store.List(context.Background(), "agent-1")
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
}

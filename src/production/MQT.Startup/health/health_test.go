package health

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestCreateTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS devices")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UNIQUE (device_id, base_ts)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS samples")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("idx_samples_device_ts_count")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, CreateTables(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTablesStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS devices")).WillReturnError(context.DeadlineExceeded)

	err = CreateTables(context.Background(), db)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("creates both indexes", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())
		require.NoError(mt, EnsureIndexes(context.Background(), mt.DB))
	})

	mt.Run("reports failure", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 85, Name: "IndexOptionsConflict", Message: "index exists with different options",
		}))
		require.Error(mt, EnsureIndexes(context.Background(), mt.DB))
	})
}

func TestOpenStoreMemory(t *testing.T) {
	store, closeFn, err := OpenStore(context.Background(), &config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	defer closeFn()
	require.NotNil(t, store.Devices)
	require.NoError(t, store.Ping(context.Background()))

	_, _, err = OpenStore(context.Background(), &config.StorageConfig{Driver: "sqlite"})
	require.Error(t, err)
}

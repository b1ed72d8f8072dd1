package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/envvault/pkg/models"
)

func newMockBackend(t *testing.T) (*SQLiteBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteBackend(db), mock
}

func TestSQLiteAppendRevision_Commits(t *testing.T) {
	b, mock := newMockBackend(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM revisions`).
		WithArgs("ent-1", "env-dev").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO revisions`).
		WithArgs("ent-1", "env-dev", 4, "v4", sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	rev := &models.Revision{EntityID: "ent-1", EnvironmentID: "env-dev", Value: "v4", CreatedAt: epoch, CreatedByID: "user-1"}
	require.NoError(t, b.AppendRevision(context.Background(), rev))
	assert.Equal(t, 4, rev.Version)
	assert.EqualValues(t, 42, rev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAppendRevision_UniqueViolationIsConflict(t *testing.T) {
	b, mock := newMockBackend(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM revisions`).
		WithArgs("ent-1", "env-dev").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO revisions`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectRollback()

	rev := &models.Revision{EntityID: "ent-1", EnvironmentID: "env-dev", Value: "v4", CreatedAt: epoch, CreatedByID: "user-1"}
	err := b.AppendRevision(context.Background(), rev)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, rev.Version, "a failed append must not assign a version")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAppendRevision_OtherErrorsPropagate(t *testing.T) {
	b, mock := newMockBackend(t)
	boom := errors.New("disk I/O error")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM revisions`).WillReturnError(boom)
	mock.ExpectRollback()

	err := b.AppendRevision(context.Background(), &models.Revision{EntityID: "e", EnvironmentID: "env"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteCreateEntity_DuplicateSlug(t *testing.T) {
	b, mock := newMockBackend(t)
	mock.ExpectExec(`INSERT INTO entities`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})

	err := b.CreateEntity(context.Background(), newEntity("ent-1", "api-key", models.KindSecret, epoch))
	assert.ErrorIs(t, err, ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteDeleteEntity_NoRows(t *testing.T) {
	b, mock := newMockBackend(t)
	mock.ExpectExec(`DELETE FROM entities WHERE id = \?`).
		WithArgs("ent-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, b.DeleteEntity(context.Background(), "ent-1"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"dbprov/internal/model"
)

var followerCols = []string{"id", "ident", "backend", "host_key", "main_url", "follower_url", "created_at"}

func TestFollowerPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewFollowerPostgres(db)
	ctx := context.Background()

	now := time.Now().UTC()
	f := &model.Follower{
		ID:          "test-uuid",
		Ident:       "gw0",
		Backend:     "postgresql",
		HostKey:     "db1:5432,db2:5432",
		MainURL:     "postgresql://scott:***@/test?host=db1,db2&port=5432",
		FollowerURL: "postgresql://scott:***@/gw0?host=db1,db2&port=5432",
		CreatedAt:   now,
	}

	rows := sqlmock.NewRows(followerCols).
		AddRow(f.ID, f.Ident, f.Backend, f.HostKey, f.MainURL, f.FollowerURL, f.CreatedAt)

	mock.ExpectQuery("INSERT INTO followers").
		WithArgs(f.ID, f.Ident, f.Backend, f.HostKey, f.MainURL, f.FollowerURL, f.CreatedAt).
		WillReturnRows(rows)

	result, err := repo.Create(ctx, f)

	assert.NoError(t, err)
	assert.Equal(t, f, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowerPostgres_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewFollowerPostgres(db)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		rows := sqlmock.NewRows(followerCols).
			AddRow("id-2", "gw1", "sqlite", "", "sqlite:///main.db", "sqlite:///gw1.db", time.Now()).
			AddRow("id-1", "gw0", "redis", "r1:6379", "redis://r1/0", "redis://r1/1", time.Now())

		mock.ExpectQuery("SELECT (.+) FROM followers ORDER BY").
			WillReturnRows(rows)

		items, err := repo.List(ctx)

		assert.NoError(t, err)
		assert.Len(t, items, 2)
		assert.Equal(t, "gw1", items[0].Ident)
	})

	t.Run("empty", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM followers ORDER BY").
			WillReturnRows(sqlmock.NewRows(followerCols))

		items, err := repo.List(ctx)

		assert.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM followers ORDER BY").
			WillReturnError(errors.New("boom"))

		items, err := repo.List(ctx)

		assert.Error(t, err)
		assert.Nil(t, items)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowerPostgres_ListByIdent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewFollowerPostgres(db)

	rows := sqlmock.NewRows(followerCols).
		AddRow("id-1", "gw0", "postgresql", "db1:5432", "postgresql://db1/test", "postgresql://db1/gw0", time.Now())
	mock.ExpectQuery("SELECT (.+) FROM followers WHERE ident = ?").
		WithArgs("gw0").
		WillReturnRows(rows)

	items, err := repo.ListByIdent(context.Background(), "gw0")

	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "postgresql://db1/gw0", items[0].FollowerURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowerPostgres_DeleteByIdent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewFollowerPostgres(db)

	mock.ExpectExec("DELETE FROM followers WHERE ident = ?").
		WithArgs("gw0").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteByIdent(context.Background(), "gw0")

	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowerPostgres_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewFollowerPostgres(db)

	mock.ExpectExec("DELETE FROM followers WHERE id = ?").
		WithArgs("7d7c2c1e-0000-4000-8000-000000000001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM followers WHERE id = ?").
		WithArgs("missing").
		WillReturnError(sql.ErrConnDone)

	assert.NoError(t, repo.Delete(context.Background(), "7d7c2c1e-0000-4000-8000-000000000001"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbprov/internal/config"
	"dbprov/internal/dburl"
)

func TestBuildPostgresURL(t *testing.T) {
	tests := []struct {
		name    string
		config  config.DatabaseConfig
		want    string
		wantErr error
	}{
		{
			name: "single host with password and sslmode",
			config: config.DatabaseConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			want: "postgresql+pgx://user:pass@/dbname?host=localhost:5432&sslmode=disable",
		},
		{
			name: "multihost lists",
			config: config.DatabaseConfig{
				Host:               "db1,db2",
				Port:               "5432,5433",
				User:               "user",
				Name:               "dbname",
				TargetSessionAttrs: "read-write",
			},
			want: "postgresql+pgx://user@/dbname?host=db1,db2&port=5432,5433&target_session_attrs=read-write",
		},
		{
			name: "multihost with shared port",
			config: config.DatabaseConfig{
				Host: "db1,db2",
				Port: "5432",
				User: "user",
				Name: "dbname",
			},
			want: "postgresql+pgx://user@/dbname?host=db1,db2&port=5432",
		},
		{
			name: "host and port count mismatch",
			config: config.DatabaseConfig{
				Host: "db1,db2,db3",
				Port: "5432,5433",
				User: "user",
				Name: "dbname",
			},
			wantErr: dburl.ErrHostPortMismatch,
		},
		{
			name: "invalid port",
			config: config.DatabaseConfig{
				Host: "localhost",
				Port: "http",
				User: "user",
				Name: "dbname",
			},
			wantErr: dburl.ErrInvalidPort,
		},
		{
			name:   "missing host",
			config: config.DatabaseConfig{Port: "5432", User: "user", Name: "dbname"},
		},
		{
			name:   "missing user",
			config: config.DatabaseConfig{Host: "localhost", Port: "5432", Name: "dbname"},
		},
		{
			name:   "missing name",
			config: config.DatabaseConfig{Host: "localhost", Port: "5432", User: "user"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPostgresURL(tt.config)
			if tt.want == "" {
				assert.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestPoolFromConfig(t *testing.T) {
	p := PoolFromConfig(config.DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetimeSec: 300})
	assert.Equal(t, Pool{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}, p)
}

func TestOpen(t *testing.T) {
	pool := Pool{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Minute}
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		origSqlOpen := sqlOpen
		sqlOpen = func(driverName, dataSourceName string) (*sql.DB, error) {
			return db, nil
		}
		defer func() { sqlOpen = origSqlOpen }()

		mock.ExpectPing()

		gotDB, err := Open(ctx, "sqlmock", "host=db1", pool)
		assert.NoError(t, err)
		assert.NotNil(t, gotDB)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sqlOpen error", func(t *testing.T) {
		origSqlOpen := sqlOpen
		sqlOpen = func(driverName, dataSourceName string) (*sql.DB, error) {
			return nil, errors.New("open error")
		}
		defer func() { sqlOpen = origSqlOpen }()

		gotDB, err := Open(ctx, "sqlmock", "host=db1", pool)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "sql open: open error")
		assert.Nil(t, gotDB)
	})

	t.Run("ping error", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		// No need to defer db.Close() because Open closes it on ping error

		origSqlOpen := sqlOpen
		sqlOpen = func(driverName, dataSourceName string) (*sql.DB, error) {
			return db, nil
		}
		defer func() { sqlOpen = origSqlOpen }()

		mock.ExpectPing().WillReturnError(errors.New("ping failed"))

		gotDB, err := Open(ctx, "sqlmock", "host=db1", pool)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "db ping: ping failed")
		assert.Nil(t, gotDB)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown driver", func(t *testing.T) {
		gotDB, err := Open(ctx, "no-such-driver", "", pool)
		assert.Error(t, err)
		assert.Nil(t, gotDB)
	})
}

func TestInstrumentedDriver_RegistersOnce(t *testing.T) {
	first, err := instrumentedDriver("sqlmock", nil)
	require.NoError(t, err)
	second, err := instrumentedDriver("sqlmock", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

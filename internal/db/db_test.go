package db

import (
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
)

type widget struct {
	ID   string `gorm:"primaryKey;type:varchar(36)"`
	Name string
}

func TestNewGormDB_SQLite(t *testing.T) {
	g, err := NewGormDB(GormConfig{Type: DatabaseTypeSQLite, SQLitePath: filepath.Join(t.TempDir(), "test.db"), Instrument: true})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	assert.Equal(t, DatabaseTypeSQLite, g.DatabaseType())
	require.NoError(t, g.AutoMigrate(&widget{}))
	require.NoError(t, g.DB().Create(&widget{ID: "w1", Name: "first"}).Error)
	assert.NoError(t, g.Ping(t.Context()))
}

func TestNewGormDB_UnsupportedType(t *testing.T) {
	_, err := NewGormDB(GormConfig{Type: "cassandra"})
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestNewGormDB_OracleRequiresBuildTag(t *testing.T) {
	if getOracleDialector(GormConfig{}) != nil {
		t.Skip("built with oracle tag")
	}
	_, err := NewGormDB(GormConfig{Type: DatabaseTypeOracle, OracleConnectString: "db:1521/x"})
	assert.ErrorContains(t, err, "-tags oracle")
}

func TestNewGormDBWithDialector_Postgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	g, err := NewGormDBWithDialector(postgres.New(postgres.Config{Conn: sqlDB}), GormConfig{Type: DatabaseTypePostgres})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, g.DB().Create(&widget{ID: "w1", Name: "first"}).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisDB(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisDB(RedisConfig{Host: mr.Host(), Port: mr.Port(), Instrument: true})
	require.NoError(t, err)
	defer func() { _ = rdb.Close() }()

	require.NoError(t, rdb.Ping(t.Context()))
	require.NoError(t, rdb.GetClient().Set(t.Context(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	rdb.LogStats()
}

func TestNewRedisDB_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	_, err := NewRedisDB(RedisConfig{Host: host, Port: port})
	assert.Error(t, err)
}

func TestRedisKeyBuilder(t *testing.T) {
	b := NewRedisKeyBuilder("collabd:")
	assert.Equal(t, "collabd:presence:u1", b.PresenceKey("u1"))
	assert.Equal(t, "collabd:presence:online", b.OnlineUsersKey())
	assert.Equal(t, "collabd:edit_operations", b.EditOperationsKey())
}

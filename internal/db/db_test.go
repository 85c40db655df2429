package db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	_ "modernc.org/sqlite"

	"github.com/jmehdipour/sms-sequencer/internal/config"
)

func TestOpenAppliesPool(t *testing.T) {
	db, err := open("sqlite", config.DatabaseConfig{DSN: ":memory:", MaxOpenConns: 3}, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if got := db.Stats().MaxOpenConnections; got != 3 {
		t.Fatalf("MaxOpenConnections = %d", got)
	}
}

func TestEmptyDSNRejected(t *testing.T) {
	if _, err := NewMySQLConnection(config.DatabaseConfig{}); err == nil {
		t.Fatal("expected error for empty mysql dsn")
	}
	if _, err := NewClickHouseConnection(config.DatabaseConfig{}); err == nil {
		t.Fatal("expected error for empty clickhouse dsn")
	}
}

func TestRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	rdb, err := NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = rdb.Close()

	mr.Close()
	if _, err := NewRedisClient(config.RedisConfig{Addr: mr.Addr()}); err == nil {
		t.Fatal("expected ping failure against a stopped server")
	}
}

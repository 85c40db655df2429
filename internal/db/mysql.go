package db

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/config"
)

// NewMySQLConnection opens the relational store holding sequences,
// enrollments and the message log. The DSN needs parseTime=true and
// multiStatements=true for the migrate command.
func NewMySQLConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	return open("mysql", cfg, 5*time.Second)
}

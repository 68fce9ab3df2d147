// Package store keeps profiles and the durable call log in sqlite.
package store

import (
	"database/sql"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id           TEXT PRIMARY KEY,
		username     TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id       TEXT,
		kind            TEXT NOT NULL,
		content         TEXT NOT NULL,
		call_room_id    TEXT,
		call_status     TEXT,
		created_at      INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS messages_call_outcome
		ON messages (call_room_id, call_status)
		WHERE call_room_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS messages_conversation
		ON messages (conversation_id, created_at)`,
}

type Store struct {
	db    *sql.DB
	clock clock.Clock
	log   zerolog.Logger
}

// Open migrates the database at path. clk stamps message times; nil means
// the wall clock.
func Open(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.New()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Store{
		db:    db,
		clock: clk,
		log:   log.With().Str("module", "store").Logger(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

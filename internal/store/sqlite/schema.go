package sqlite

import (
	"database/sql"
	"strings"
)

// columns added after the first release, applied to older files
var migrations = []string{
	`ALTER TABLE setups ADD COLUMN targets TEXT NOT NULL DEFAULT ''`,
}

// All timestamps are unix milliseconds; 0 means unset.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS symbols (
			symbol  TEXT    NOT NULL,
			class   TEXT    NOT NULL,
			price   REAL    NOT NULL DEFAULT 0,
			as_of   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, class)
		);

		CREATE TABLE IF NOT EXISTS setups (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol                 TEXT    NOT NULL,
			class                  TEXT    NOT NULL,
			tf                     TEXT    NOT NULL,
			direction              INTEGER NOT NULL,
			ts                     INTEGER NOT NULL,
			pattern                TEXT    NOT NULL,
			priority               INTEGER NOT NULL,
			shape                  TEXT    NOT NULL DEFAULT '',
			pmg                    INTEGER NOT NULL DEFAULT 0,
			trigger_price          REAL    NOT NULL,
			target                 REAL    NOT NULL DEFAULT 0,
			targets                TEXT    NOT NULL DEFAULT '',
			stop                   REAL    NOT NULL,
			rr                     REAL    NOT NULL DEFAULT 0,
			trigger_bar            TEXT    NOT NULL,
			target_bar             TEXT    NOT NULL,
			potential_outside      INTEGER NOT NULL DEFAULT 0,
			in_force               INTEGER NOT NULL DEFAULT 0,
			in_force_alerted       INTEGER NOT NULL DEFAULT 0,
			in_force_last_alerted  INTEGER NOT NULL DEFAULT 0,
			hit_magnitude          INTEGER NOT NULL DEFAULT 0,
			magnitude_alerted      INTEGER NOT NULL DEFAULT 0,
			magnitude_last_alerted INTEGER NOT NULL DEFAULT 0,
			negated                INTEGER NOT NULL DEFAULT 0,
			negated_reasons        TEXT    NOT NULL DEFAULT '',
			state                  TEXT    NOT NULL,
			expires                INTEGER NOT NULL DEFAULT 0,
			initial_trigger        INTEGER NOT NULL DEFAULT 0,
			last_triggered         INTEGER NOT NULL DEFAULT 0,
			trigger_count          INTEGER NOT NULL DEFAULT 0,
			created_at             INTEGER NOT NULL,
			UNIQUE (symbol, class, tf, pattern, direction, ts)
		);

		CREATE INDEX IF NOT EXISTS idx_setups_active ON setups (class, state, expires);

		CREATE TABLE IF NOT EXISTS bars (
			class    TEXT    NOT NULL,
			symbol   TEXT    NOT NULL,
			tf       TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL DEFAULT 0,
			strat_id TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (class, symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS loop_runs (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			loop_id          TEXT    NOT NULL,
			class            TEXT    NOT NULL,
			started          INTEGER NOT NULL,
			ended            INTEGER NOT NULL,
			ticks            INTEGER NOT NULL,
			failed           INTEGER NOT NULL,
			examined         INTEGER NOT NULL,
			updated          INTEGER NOT NULL,
			triggered        INTEGER NOT NULL,
			alerts_attempted INTEGER NOT NULL,
			alerts_failed    INTEGER NOT NULL,
			total_ms         INTEGER NOT NULL,
			max_ms           INTEGER NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	return migrate(db)
}

func migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return err
		}
	}
	return nil
}

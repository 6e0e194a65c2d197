package db

import (
	"database/sql"
	"fmt"
	"sync"

	"tradebot/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection. All writes are serialized by a
// process-wide mutex; readers go straight to the pool.
type DB struct {
	sql *sql.DB
	mu  sync.Mutex
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("PRAGMA user_version").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS bots (
				name                TEXT PRIMARY KEY,
				manager             TEXT,
				symbol              TEXT NOT NULL,
				tf                  TEXT NOT NULL,
				strategy            TEXT NOT NULL,
				params_json         TEXT NOT NULL,
				allocation          REAL NOT NULL,
				cash                REAL NOT NULL,
				pos_qty             REAL NOT NULL,
				avg_price           REAL NOT NULL,
				equity              REAL NOT NULL,
				score               REAL NOT NULL,
				trades              INTEGER NOT NULL,
				updated_ts          INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS trades (
				id       INTEGER PRIMARY KEY AUTOINCREMENT,
				ts       INTEGER NOT NULL,
				bot_name TEXT NOT NULL REFERENCES bots(name) ON DELETE CASCADE,
				symbol   TEXT NOT NULL,
				side     TEXT NOT NULL,
				qty      REAL NOT NULL,
				price    REAL NOT NULL
			);

			CREATE TABLE IF NOT EXISTS equity_history (
				id     INTEGER PRIMARY KEY AUTOINCREMENT,
				ts     INTEGER NOT NULL,
				scope  TEXT NOT NULL,
				name   TEXT NOT NULL,
				equity REAL NOT NULL
			);

			CREATE TABLE IF NOT EXISTS param_history (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				ts          INTEGER NOT NULL,
				bot_name    TEXT NOT NULL,
				strategy    TEXT NOT NULL,
				params_json TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS settings (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			PRAGMA user_version = 1;
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS bars (
				symbol    TEXT NOT NULL,
				timeframe TEXT NOT NULL,
				ts        INTEGER NOT NULL,
				open      REAL NOT NULL,
				high      REAL NOT NULL,
				low       REAL NOT NULL,
				close     REAL NOT NULL,
				volume    REAL NOT NULL,
				source    TEXT NOT NULL,
				PRIMARY KEY (symbol, timeframe, ts)
			);
			CREATE INDEX IF NOT EXISTS idx_bars_symbol_tf ON bars(symbol, timeframe);
			CREATE INDEX IF NOT EXISTS idx_bars_ts ON bars(ts);

			PRAGMA user_version = 2;
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (bar cache)")
	}

	if version < 3 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS saved_backtests (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				name            TEXT NOT NULL UNIQUE,
				strategy        TEXT NOT NULL,
				symbol          TEXT NOT NULL,
				timeframe       TEXT NOT NULL,
				params_json     TEXT NOT NULL,
				initial_capital REAL NOT NULL,
				min_notional    REAL NOT NULL,
				created_ts      INTEGER NOT NULL
			);

			PRAGMA user_version = 3;
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3 (saved backtests)")
	}

	if version < 4 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS optimization_results (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				strategy     TEXT NOT NULL,
				symbol       TEXT NOT NULL,
				timeframe    TEXT NOT NULL,
				params_json  TEXT NOT NULL,
				score        REAL NOT NULL,
				total_return REAL NOT NULL,
				sharpe_ratio REAL NOT NULL,
				max_drawdown REAL NOT NULL,
				total_trades INTEGER NOT NULL,
				win_rate     REAL NOT NULL,
				tested_ts    INTEGER NOT NULL,
				UNIQUE(strategy, symbol, timeframe, params_json)
			);
			CREATE INDEX IF NOT EXISTS idx_opt_score ON optimization_results(score DESC);
			CREATE INDEX IF NOT EXISTS idx_opt_strategy ON optimization_results(strategy, symbol, timeframe);

			PRAGMA user_version = 4;
		`)
		if err != nil {
			return fmt.Errorf("migration v4: %w", err)
		}
		logger.Info("DB", "Applied migration v4 (optimization results)")
	}

	if version < 5 {
		_, err := d.sql.Exec(`
			ALTER TABLE saved_backtests ADD COLUMN days INTEGER DEFAULT 365;
			ALTER TABLE optimization_results ADD COLUMN days INTEGER DEFAULT 365;

			PRAGMA user_version = 5;
		`)
		if err != nil {
			return fmt.Errorf("migration v5: %w", err)
		}
		logger.Info("DB", "Applied migration v5 (window days)")
	}

	if version < 6 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS evolved_strategies (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				genome_json  TEXT NOT NULL,
				symbol       TEXT NOT NULL,
				timeframe    TEXT NOT NULL,
				score        REAL NOT NULL,
				total_return REAL NOT NULL,
				sharpe_ratio REAL NOT NULL,
				max_drawdown REAL NOT NULL,
				total_trades INTEGER NOT NULL,
				win_rate     REAL NOT NULL,
				generation   INTEGER NOT NULL,
				days         INTEGER NOT NULL,
				tested_ts    INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_evolved_score ON evolved_strategies(score DESC);
			CREATE INDEX IF NOT EXISTS idx_evolved_generation ON evolved_strategies(generation DESC);
			CREATE INDEX IF NOT EXISTS idx_evolved_symbol ON evolved_strategies(symbol, timeframe);

			PRAGMA user_version = 6;
		`)
		if err != nil {
			return fmt.Errorf("migration v6: %w", err)
		}
		logger.Info("DB", "Applied migration v6 (evolved strategies)")
	}

	if version < 7 {
		_, err := d.sql.Exec(`
			ALTER TABLE trades ADD COLUMN fee REAL DEFAULT 0.0;
			ALTER TABLE trades ADD COLUMN is_maker INTEGER DEFAULT 0;
			CREATE INDEX IF NOT EXISTS idx_trades_bot ON trades(bot_name, ts DESC);

			PRAGMA user_version = 7;
		`)
		if err != nil {
			return fmt.Errorf("migration v7: %w", err)
		}
		logger.Info("DB", "Applied migration v7 (trade fees)")
	}

	if version < 8 {
		_, err := d.sql.Exec(`
			ALTER TABLE bots ADD COLUMN starting_allocation REAL;
			UPDATE bots SET starting_allocation = allocation WHERE starting_allocation IS NULL;

			PRAGMA user_version = 8;
		`)
		if err != nil {
			return fmt.Errorf("migration v8: %w", err)
		}
		logger.Info("DB", "Applied migration v8 (starting allocation)")
	}

	if version < 9 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS price_alerts (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol       TEXT NOT NULL,
				condition    TEXT NOT NULL,
				price        REAL NOT NULL,
				created_ts   INTEGER NOT NULL,
				triggered_ts INTEGER,
				active       INTEGER NOT NULL DEFAULT 1
			);
			CREATE INDEX IF NOT EXISTS idx_alerts_active ON price_alerts(active, symbol);

			PRAGMA user_version = 9;
		`)
		if err != nil {
			return fmt.Errorf("migration v9: %w", err)
		}
		logger.Info("DB", "Applied migration v9 (price alerts)")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}

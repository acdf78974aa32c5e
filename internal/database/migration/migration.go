package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_ledger_entries",
		SQL: `CREATE TABLE IF NOT EXISTS ledger_entries (
  id             UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  user_id        TEXT        NOT NULL,
  operation      TEXT        NOT NULL CHECK (operation IN ('ADD','CONSUME','REFUND','ADJUST','EXPIRE')),
  amount         BIGINT      NOT NULL,
  balance_after  BIGINT      NOT NULL CHECK (balance_after >= 0),
  reason         TEXT        NOT NULL,
  reference_type TEXT        NOT NULL,
  reference_id   TEXT        NOT NULL,
  actor_id       TEXT        NOT NULL DEFAULT '',
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_ledger_entries_user",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries (user_id, created_at);`,
	},
	{
		Name: "create_unique_index_ledger_entries_reference",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_reference ON ledger_entries (reference_type, reference_id, operation);`,
	},
	{
		Name: "create_table_balance_cache",
		SQL: `CREATE TABLE IF NOT EXISTS balance_cache (
  user_id    TEXT        PRIMARY KEY,
  available  BIGINT      NOT NULL DEFAULT 0,
  used       BIGINT      NOT NULL DEFAULT 0,
  total      BIGINT      NOT NULL DEFAULT 0,
  plan_type  TEXT        NOT NULL DEFAULT '',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_table_registrations",
		SQL: `CREATE TABLE IF NOT EXISTS registrations (
  id            UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  owner_id      TEXT        NOT NULL,
  filename      TEXT        NOT NULL,
  storage_path  TEXT        NOT NULL,
  content_hash  TEXT,
  status        TEXT        NOT NULL CHECK (status IN ('PENDING','PROCESSING','CONFIRMED','FAILED')),
  attempt_count INT         NOT NULL DEFAULT 0,
  error_reason  TEXT,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_registrations_owner",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_registrations_owner ON registrations (owner_id, created_at);`,
	},
	{
		Name: "create_index_registrations_hash",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_registrations_hash ON registrations (content_hash);`,
	},
	{
		Name: "create_table_anchors",
		SQL: `CREATE TABLE IF NOT EXISTS anchors (
  id              UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  registration_id UUID        NOT NULL REFERENCES registrations (id),
  method          TEXT        NOT NULL CHECK (method IN ('EXTERNAL','INTERNAL')),
  authority       TEXT        NOT NULL,
  proof           BYTEA       NOT NULL,
  note            TEXT,
  confirmed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_unique_index_anchors_registration",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS ux_anchors_registration ON anchors (registration_id);`,
	},
	{
		Name: "create_table_webhook_events",
		SQL: `CREATE TABLE IF NOT EXISTS webhook_events (
  id                  UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  event_type          TEXT        NOT NULL,
  external_payment_id TEXT        NOT NULL,
  processed           BOOLEAN     NOT NULL DEFAULT FALSE,
  action_taken        TEXT        NOT NULL,
  error_message       TEXT,
  received_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_webhook_events_key",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_webhook_events_key ON webhook_events (event_type, external_payment_id);`,
	},
	{
		Name: "create_table_payments",
		SQL: `CREATE TABLE IF NOT EXISTS payments (
  id          UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  external_id TEXT        NOT NULL UNIQUE,
  user_id     TEXT        NOT NULL,
  value       NUMERIC     NOT NULL,
  credits     BIGINT      NOT NULL,
  status      TEXT        NOT NULL CHECK (status IN ('PENDING','CONFIRMED','FAILED','REFUNDED')),
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_table_subscriptions",
		SQL: `CREATE TABLE IF NOT EXISTS subscriptions (
  id          UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  external_id TEXT        NOT NULL UNIQUE,
  user_id     TEXT        NOT NULL,
  plan_type   TEXT        NOT NULL,
  status      TEXT        NOT NULL CHECK (status IN ('ACTIVE','CANCELED')),
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
}

// EnsureMigrated checks if the 'ledger_entries' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, loc *time.Location, dbHost string) error {
	start := time.Now()

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_host":   dbHost,
	})

	var exists bool
	query := "SELECT to_regclass('public.ledger_entries') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		logJSON(loc, map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_host":       dbHost,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logJSON(loc, map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_host":     dbHost,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_start",
		"status":    "in_progress",
		"db_host":   dbHost,
	})

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			logJSON(loc, map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_host":          dbHost,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logJSON(loc, map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_host":          dbHost,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	logJSON(loc, map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_host":     dbHost,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

func logJSON(loc *time.Location, data map[string]any) {
	data["ts"] = time.Now().In(loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal migration log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}

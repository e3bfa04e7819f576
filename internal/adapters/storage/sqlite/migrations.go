package sqlite

import migrate "github.com/rubenv/sql-migrate"

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_conversations",
			Up: []string{
				`CREATE TABLE conversations (
					id           TEXT PRIMARY KEY,
					tenant_id    TEXT NOT NULL,
					user_id      TEXT NOT NULL,
					topic        TEXT NOT NULL,
					phase        TEXT NOT NULL,
					status       TEXT NOT NULL,
					signals      TEXT NOT NULL DEFAULT '{}',
					categories   TEXT NOT NULL DEFAULT '[]',
					vals         TEXT NOT NULL DEFAULT '[]',
					model_used   TEXT NOT NULL DEFAULT '',
					total_tokens INTEGER NOT NULL DEFAULT 0,
					session_cost REAL NOT NULL DEFAULT 0,
					version      INTEGER NOT NULL DEFAULT 0,
					created_at   TEXT NOT NULL,
					updated_at   TEXT NOT NULL,
					completed_at TEXT
				)`,
				`CREATE INDEX idx_conversations_owner ON conversations (tenant_id, user_id, topic, created_at)`,
				`CREATE TABLE messages (
					conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
					seq             INTEGER NOT NULL,
					id              TEXT NOT NULL,
					role            TEXT NOT NULL,
					content         TEXT NOT NULL,
					phase           TEXT NOT NULL,
					created_at      TEXT NOT NULL,
					PRIMARY KEY (conversation_id, seq)
				)`,
			},
			Down: []string{
				`DROP TABLE messages`,
				`DROP TABLE conversations`,
			},
		},
	},
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/cvagent/internal/sqldb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS candidates (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	email                TEXT NOT NULL UNIQUE,
	full_name            TEXT NOT NULL,
	country              TEXT,
	location             TEXT,
	phone                TEXT,
	hired                BOOLEAN NOT NULL DEFAULT 0,
	status               TEXT NOT NULL DEFAULT 'active',
	resume_url           TEXT,
	embeddings_namespace TEXT NOT NULL UNIQUE,
	content              TEXT,
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS educations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	candidate_id INTEGER NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	institution  TEXT NOT NULL,
	degree       TEXT,
	major        TEXT,
	start_date   TEXT,
	end_date     TEXT
);

CREATE TABLE IF NOT EXISTS experiences (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	candidate_id INTEGER NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	company_name TEXT NOT NULL,
	role         TEXT,
	start_date   TEXT,
	end_date     TEXT,
	description  TEXT
);

CREATE TABLE IF NOT EXISTS projects (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	candidate_id      INTEGER NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	project_name      TEXT NOT NULL,
	description       TEXT,
	technologies_used TEXT,
	link              TEXT
);

CREATE TABLE IF NOT EXISTS certifications (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	candidate_id         INTEGER NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	certification_name   TEXT NOT NULL,
	issuing_organization TEXT,
	issue_date           TEXT,
	expiration_date      TEXT
);

CREATE TABLE IF NOT EXISTS skills (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL UNIQUE,
	category TEXT
);

CREATE TABLE IF NOT EXISTS candidate_skills (
	candidate_id INTEGER NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	skill_id     INTEGER NOT NULL REFERENCES skills(id) ON DELETE CASCADE,
	PRIMARY KEY (candidate_id, skill_id)
);
`

// The Postgres variant only differs in key and boolean types.
func postgresSchema() string {
	r := strings.NewReplacer(
		"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
		"INTEGER NOT NULL REFERENCES", "BIGINT NOT NULL REFERENCES",
		"BOOLEAN NOT NULL DEFAULT 0", "BOOLEAN NOT NULL DEFAULT FALSE",
		"TIMESTAMP NOT NULL", "TIMESTAMPTZ NOT NULL",
	)
	return r.Replace(sqliteSchema)
}

// Migrate creates the candidate tables if they do not exist.
func Migrate(ctx context.Context, db *sqldb.DB) error {
	schema := sqliteSchema
	if db.Dialect() == sqldb.Postgres {
		schema = postgresSchema()
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.SQL().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

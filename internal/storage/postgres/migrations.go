package postgres

import "surveySync/internal/storage"

// Migrations holds the Postgres schema. survey_groups rows are
// surveys/{survey_id}/{group_key}; responses rows are responses/{bucket}/{response_id}.
var Migrations = []storage.Migration{
	{
		ID: "0001_surveys",
		SQL: `
-- +migrate Down
DROP TABLE IF EXISTS responses;
DROP TABLE IF EXISTS survey_groups;

-- +migrate Up
CREATE TABLE IF NOT EXISTS survey_groups (
	survey_id  TEXT NOT NULL,
	group_key  TEXT NOT NULL,
	created    BOOLEAN NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (survey_id, group_key)
);

CREATE TABLE IF NOT EXISTS responses (
	bucket      TEXT NOT NULL,
	response_id TEXT NOT NULL,
	survey_id   TEXT NOT NULL,
	creator     TEXT NOT NULL,
	started     BOOLEAN NOT NULL DEFAULT false,
	completed   BOOLEAN NOT NULL DEFAULT false,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (bucket, response_id)
);

CREATE INDEX IF NOT EXISTS responses_survey_creator_idx ON responses (survey_id, lower(creator));
`,
	},
	{
		ID: "0002_indexer_state",
		SQL: `
-- +migrate Down
DROP TABLE IF EXISTS indexer_state;

-- +migrate Up
CREATE TABLE IF NOT EXISTS indexer_state (
	name       TEXT PRIMARY KEY,
	last_block BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`,
	},
}

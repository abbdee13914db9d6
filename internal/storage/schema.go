// Package storage provides cloud job and file persistence using SQLite.
package storage

// Schema definitions for the stub file database
const (
	// SchemaV1 is the initial database schema. Files are keyed by job id plus
	// remote file id together with the page offset they were retrieved at.
	SchemaV1 = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT NOT NULL,
	state TEXT NOT NULL,
	UNIQUE(id)
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	state TEXT,
	size TEXT NOT NULL,
	"offset" INTEGER NOT NULL,
	job_id TEXT NOT NULL,
	je_job TEXT,
	UNIQUE(id, "offset")
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`

	// SchemaV2 adds the index backing completion counts
	SchemaV2 = `
CREATE INDEX IF NOT EXISTS idx_files_job_id ON files(job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`
)

// Migrations represents all available migrations
var Migrations = []struct {
	Version int
	SQL     string
}{
	{
		Version: 1,
		SQL:     SchemaV1,
	},
	{
		Version: 2,
		SQL:     SchemaV2,
	},
}

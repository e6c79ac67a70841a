package sql

import (
	"context"
	"database/sql"
	"fmt"
)

// DDL statements for the metadata tables. Types are chosen to work on both
// SQLite and MySQL; dates are stored as 'YYYY-MM-DD' text and timestamps as
// RFC 3339 text so scanning stays driver-agnostic.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS archival_table_configuration (
		id INTEGER PRIMARY KEY,
		source_name VARCHAR(128) NOT NULL,
		database_name VARCHAR(128) NOT NULL,
		schema_name VARCHAR(128) NOT NULL,
		table_name VARCHAR(128) NOT NULL,
		as_of_column VARCHAR(128) NOT NULL,
		storage_account VARCHAR(128) NOT NULL,
		container VARCHAR(128) NOT NULL,
		path_prefix VARCHAR(512) NOT NULL,
		delete_from_source INTEGER NOT NULL DEFAULT 0,
		retain_days INTEGER NOT NULL DEFAULT 0,
		policy_id INTEGER NULL,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS archival_file (
		id INTEGER PRIMARY KEY,
		table_configuration_id INTEGER NOT NULL,
		as_of_date VARCHAR(10) NOT NULL,
		date_type VARCHAR(16) NOT NULL,
		storage_account VARCHAR(128) NOT NULL,
		container VARCHAR(128) NOT NULL,
		blob_path VARCHAR(1024) NOT NULL,
		etag VARCHAR(256) NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		row_count BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		current_access_tier VARCHAR(16) NOT NULL DEFAULT '',
		last_tier_check_at VARCHAR(35) NULL,
		override_policy_id INTEGER NULL,
		created_at VARCHAR(35) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_archival_file_config_date
		ON archival_file (table_configuration_id, as_of_date)`,
	`CREATE INDEX IF NOT EXISTS idx_archival_file_scope
		ON archival_file (storage_account, container)`,
	`CREATE TABLE IF NOT EXISTS archival_lifecycle_policy (
		id INTEGER PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		eod_cool_days INTEGER NULL,
		eod_archive_days INTEGER NULL,
		eod_delete_days INTEGER NULL,
		eom_cool_days INTEGER NULL,
		eom_archive_days INTEGER NULL,
		eom_delete_days INTEGER NULL,
		eoq_cool_days INTEGER NULL,
		eoq_archive_days INTEGER NULL,
		eoq_delete_days INTEGER NULL,
		eoy_cool_days INTEGER NULL,
		eoy_archive_days INTEGER NULL,
		eoy_delete_days INTEGER NULL,
		external_cool_days INTEGER NULL,
		external_archive_days INTEGER NULL,
		external_delete_days INTEGER NULL
	)`,
	`CREATE TABLE IF NOT EXISTS archival_run (
		id INTEGER PRIMARY KEY,
		scope VARCHAR(256) NOT NULL,
		status VARCHAR(16) NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		started_at VARCHAR(35) NOT NULL,
		completed_at VARCHAR(35) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS archival_run_detail (
		id INTEGER PRIMARY KEY,
		run_id INTEGER NOT NULL,
		table_configuration_id INTEGER NOT NULL,
		as_of_date VARCHAR(10) NOT NULL,
		date_type VARCHAR(16) NOT NULL,
		phase VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		archival_file_id INTEGER NULL,
		rows_affected BIGINT NOT NULL DEFAULT 0,
		file_path VARCHAR(1024) NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		created_at VARCHAR(35) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_archival_run_detail_run
		ON archival_run_detail (run_id)`,
	`CREATE TABLE IF NOT EXISTS archival_exemption (
		table_configuration_id INTEGER NOT NULL,
		as_of_date VARCHAR(10) NOT NULL,
		PRIMARY KEY (table_configuration_id, as_of_date)
	)`,
}

// EnsureSchema creates the metadata tables when they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("metadata schema: %w", err)
		}
	}
	return nil
}

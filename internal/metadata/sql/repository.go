// Package sql implements the metadata.Repository interface on database/sql.
// Statements use ? placeholders and portable column types, so the same code
// runs against SQLite (tests, single-node deployments) and MySQL.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coldstore-io/coldstore/internal/metadata"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

// Repository implements metadata.Repository on a *sql.DB.
type Repository struct {
	db *sql.DB
}

// New creates a repository over an open database handle. The caller owns
// the handle's lifecycle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open opens a database by driver name and DSN, verifies connectivity, and
// ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Repository, *sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("metadata: ping %s: %w", driver, err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return New(db), db, nil
}

func formatDate(t time.Time) string {
	return metadata.DateOf(t).Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// CreateFile inserts a new archival file record and sets its ID.
func (r *Repository) CreateFile(ctx context.Context, file *metadata.ArchivalFile) error {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO archival_file (
			table_configuration_id, as_of_date, date_type,
			storage_account, container, blob_path,
			etag, size_bytes, row_count, status,
			current_access_tier, last_tier_check_at, override_policy_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.TableConfigurationID, formatDate(file.AsOfDate), string(file.DateType),
		file.StorageAccount, file.Container, file.BlobPath,
		file.ETag, file.SizeBytes, file.RowCount, string(file.Status),
		file.CurrentAccessTier, formatTimePtr(file.LastTierCheckAt),
		nullableInt64(file.OverridePolicyID), file.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("metadata: create file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("metadata: create file id: %w", err)
	}
	file.ID = id
	return nil
}

const updateFileStmt = `
	UPDATE archival_file SET
		etag = ?, size_bytes = ?, row_count = ?, status = ?,
		current_access_tier = ?, last_tier_check_at = ?, override_policy_id = ?
	WHERE id = ?`

// UpdateFile persists all mutable fields of one file record.
func (r *Repository) UpdateFile(ctx context.Context, file *metadata.ArchivalFile) error {
	res, err := r.db.ExecContext(ctx, updateFileStmt,
		file.ETag, file.SizeBytes, file.RowCount, string(file.Status),
		file.CurrentAccessTier, formatTimePtr(file.LastTierCheckAt),
		nullableInt64(file.OverridePolicyID), file.ID,
	)
	if err != nil {
		return fmt.Errorf("metadata: update file %d: %w", file.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return metadata.ErrNotFound
	}
	return nil
}

// BulkUpdateFiles persists mutable fields for many files in one transaction.
func (r *Repository) BulkUpdateFiles(ctx context.Context, files []*metadata.ArchivalFile) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: bulk update begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, updateFileStmt)
	if err != nil {
		return fmt.Errorf("metadata: bulk update prepare: %w", err)
	}
	defer stmt.Close()

	for _, file := range files {
		if _, err := stmt.ExecContext(ctx,
			file.ETag, file.SizeBytes, file.RowCount, string(file.Status),
			file.CurrentAccessTier, formatTimePtr(file.LastTierCheckAt),
			nullableInt64(file.OverridePolicyID), file.ID,
		); err != nil {
			return fmt.Errorf("metadata: bulk update file %d: %w", file.ID, err)
		}
	}
	return tx.Commit()
}

// ActiveFileExists reports whether any non-Deleted file exists for the pair.
func (r *Repository) ActiveFileExists(ctx context.Context, tableConfigID int64, asOf time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM archival_file
		WHERE table_configuration_id = ? AND as_of_date = ? AND status <> ?
		LIMIT 1`,
		tableConfigID, formatDate(asOf), string(metadata.FileStatusDeleted),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("metadata: file exists: %w", err)
	}
	return true, nil
}

const fileColumns = `
	id, table_configuration_id, as_of_date, date_type,
	storage_account, container, blob_path,
	etag, size_bytes, row_count, status,
	current_access_tier, last_tier_check_at, override_policy_id, created_at`

func scanFile(rows *sql.Rows) (*metadata.ArchivalFile, error) {
	var (
		f           metadata.ArchivalFile
		asOf        string
		dateType    string
		status      string
		lastCheck   sql.NullString
		overrideID  sql.NullInt64
		createdAt   string
	)
	if err := rows.Scan(
		&f.ID, &f.TableConfigurationID, &asOf, &dateType,
		&f.StorageAccount, &f.Container, &f.BlobPath,
		&f.ETag, &f.SizeBytes, &f.RowCount, &status,
		&f.CurrentAccessTier, &lastCheck, &overrideID, &createdAt,
	); err != nil {
		return nil, err
	}

	var err error
	if f.AsOfDate, err = parseDate(asOf); err != nil {
		return nil, fmt.Errorf("as_of_date %q: %w", asOf, err)
	}
	f.DateType = metadata.DateType(dateType)
	f.Status = metadata.FileStatus(status)
	if f.LastTierCheckAt, err = parseTimePtr(lastCheck); err != nil {
		return nil, fmt.Errorf("last_tier_check_at: %w", err)
	}
	if overrideID.Valid {
		v := overrideID.Int64
		f.OverridePolicyID = &v
	}
	if f.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("created_at %q: %w", createdAt, err)
	}
	return &f, nil
}

// FileCandidates returns non-Deleted files matching the filter, ordered by ID.
func (r *Repository) FileCandidates(ctx context.Context, filter metadata.CandidateFilter) ([]*metadata.ArchivalFile, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(fileColumns)
	sb.WriteString(" FROM archival_file WHERE status <> ?")
	args := []any{string(metadata.FileStatusDeleted)}

	if filter.Account != "" {
		sb.WriteString(" AND storage_account = ?")
		args = append(args, filter.Account)
	}
	if filter.Container != "" {
		sb.WriteString(" AND container = ?")
		args = append(args, filter.Container)
	}
	if filter.PathPrefix != "" {
		sb.WriteString(" AND blob_path LIKE ?")
		args = append(args, filter.PathPrefix+"%")
	}
	if len(filter.TableConfigurationIDs) > 0 {
		sb.WriteString(" AND table_configuration_id IN (")
		sb.WriteString(placeholders(len(filter.TableConfigurationIDs)))
		sb.WriteString(")")
		for _, id := range filter.TableConfigurationIDs {
			args = append(args, id)
		}
	}
	if !filter.CheckedBefore.IsZero() {
		sb.WriteString(" AND (last_tier_check_at IS NULL OR last_tier_check_at < ?)")
		args = append(args, filter.CheckedBefore.UTC().Format(timeLayout))
	}
	sb.WriteString(" ORDER BY id")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: file candidates: %w", err)
	}
	defer rows.Close()

	var out []*metadata.ArchivalFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("metadata: scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// PoliciesByIDs returns the policies with the given IDs; missing IDs are
// absent from the result.
func (r *Repository) PoliciesByIDs(ctx context.Context, ids []int64) (map[int64]*metadata.LifecyclePolicy, error) {
	out := make(map[int64]*metadata.LifecyclePolicy)
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name,
			eod_cool_days, eod_archive_days, eod_delete_days,
			eom_cool_days, eom_archive_days, eom_delete_days,
			eoq_cool_days, eoq_archive_days, eoq_delete_days,
			eoy_cool_days, eoy_archive_days, eoy_delete_days,
			external_cool_days, external_archive_days, external_delete_days
		FROM archival_lifecycle_policy WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("metadata: policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p         metadata.LifecyclePolicy
			fields    [15]sql.NullInt64
		)
		if err := rows.Scan(
			&p.ID, &p.Name,
			&fields[0], &fields[1], &fields[2],
			&fields[3], &fields[4], &fields[5],
			&fields[6], &fields[7], &fields[8],
			&fields[9], &fields[10], &fields[11],
			&fields[12], &fields[13], &fields[14],
		); err != nil {
			return nil, fmt.Errorf("metadata: scan policy: %w", err)
		}
		dst := []**int{
			&p.EODCoolDays, &p.EODArchiveDays, &p.EODDeleteDays,
			&p.EOMCoolDays, &p.EOMArchiveDays, &p.EOMDeleteDays,
			&p.EOQCoolDays, &p.EOQArchiveDays, &p.EOQDeleteDays,
			&p.EOYCoolDays, &p.EOYArchiveDays, &p.EOYDeleteDays,
			&p.ExternalCoolDays, &p.ExternalArchiveDays, &p.ExternalDeleteDays,
		}
		for i, fv := range fields {
			if fv.Valid {
				v := int(fv.Int64)
				*dst[i] = &v
			}
		}
		out[p.ID] = &p
	}
	return out, rows.Err()
}

const configColumns = `
	id, source_name, database_name, schema_name, table_name, as_of_column,
	storage_account, container, path_prefix,
	delete_from_source, retain_days, policy_id, active`

func scanConfig(scan func(dest ...any) error) (*metadata.TableConfiguration, error) {
	var (
		c        metadata.TableConfiguration
		policyID sql.NullInt64
	)
	if err := scan(
		&c.ID, &c.SourceName, &c.DatabaseName, &c.SchemaName, &c.TableName, &c.AsOfColumn,
		&c.StorageAccount, &c.Container, &c.PathPrefix,
		&c.DeleteFromSource, &c.RetainDays, &policyID, &c.Active,
	); err != nil {
		return nil, err
	}
	if policyID.Valid {
		v := policyID.Int64
		c.PolicyID = &v
	}
	return &c, nil
}

// TableConfiguration returns one configuration by ID.
func (r *Repository) TableConfiguration(ctx context.Context, id int64) (*metadata.TableConfiguration, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+configColumns+" FROM archival_table_configuration WHERE id = ?", id)
	c, err := scanConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: table configuration %d: %w", id, err)
	}
	return c, nil
}

// ActiveTableConfigurations returns all active configurations ordered by ID.
func (r *Repository) ActiveTableConfigurations(ctx context.Context) ([]*metadata.TableConfiguration, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+configColumns+" FROM archival_table_configuration WHERE active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("metadata: active configurations: %w", err)
	}
	defer rows.Close()

	var out []*metadata.TableConfiguration
	for rows.Next() {
		c, err := scanConfig(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("metadata: scan configuration: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DistinctActiveScopes returns distinct (account, container) pairs across
// active configurations.
func (r *Repository) DistinctActiveScopes(ctx context.Context) ([]metadata.Scope, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT storage_account, container
		FROM archival_table_configuration
		WHERE active = 1
		ORDER BY storage_account, container`)
	if err != nil {
		return nil, fmt.Errorf("metadata: distinct scopes: %w", err)
	}
	defer rows.Close()

	var out []metadata.Scope
	for rows.Next() {
		var s metadata.Scope
		if err := rows.Scan(&s.Account, &s.Container); err != nil {
			return nil, fmt.Errorf("metadata: scan scope: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StartRun opens a run for the scope and returns its ID.
func (r *Repository) StartRun(ctx context.Context, scope string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO archival_run (scope, status, message, started_at)
		VALUES (?, ?, '', ?)`,
		scope, string(metadata.RunStarted), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("metadata: start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("metadata: start run id: %w", err)
	}
	return id, nil
}

// CompleteRun finalizes a run.
func (r *Repository) CompleteRun(ctx context.Context, runID int64, status metadata.RunStatus, message string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE archival_run SET status = ?, message = ?, completed_at = ?
		WHERE id = ?`,
		string(status), message, time.Now().UTC().Format(timeLayout), runID,
	)
	if err != nil {
		return fmt.Errorf("metadata: complete run %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return metadata.ErrNotFound
	}
	return nil
}

const insertDetailStmt = `
	INSERT INTO archival_run_detail (
		run_id, table_configuration_id, as_of_date, date_type,
		phase, status, archival_file_id, rows_affected, file_path, message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func detailArgs(d *metadata.RunDetail) []any {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		d.RunID, d.TableConfigurationID, formatDate(d.AsOfDate), string(d.DateType),
		string(d.Phase), string(d.Status), nullableInt64(d.ArchivalFileID),
		d.RowsAffected, d.FilePath, d.Message, createdAt.Format(timeLayout),
	}
}

// LogDetail inserts one run detail row.
func (r *Repository) LogDetail(ctx context.Context, detail *metadata.RunDetail) error {
	res, err := r.db.ExecContext(ctx, insertDetailStmt, detailArgs(detail)...)
	if err != nil {
		return fmt.Errorf("metadata: log detail: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		detail.ID = id
	}
	return nil
}

// BulkInsertDetails inserts many run detail rows in one transaction.
func (r *Repository) BulkInsertDetails(ctx context.Context, details []*metadata.RunDetail) error {
	if len(details) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: bulk insert begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertDetailStmt)
	if err != nil {
		return fmt.Errorf("metadata: bulk insert prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range details {
		if _, err := stmt.ExecContext(ctx, detailArgs(d)...); err != nil {
			return fmt.Errorf("metadata: bulk insert detail: %w", err)
		}
	}
	return tx.Commit()
}

// IsExempt reports whether the pair is exempt from archival.
func (r *Repository) IsExempt(ctx context.Context, tableConfigID int64, asOf time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM archival_exemption
		WHERE table_configuration_id = ? AND as_of_date = ?`,
		tableConfigID, formatDate(asOf),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("metadata: exemption: %w", err)
	}
	return true, nil
}

// Verify interface compliance at compile time.
var _ metadata.Repository = (*Repository)(nil)

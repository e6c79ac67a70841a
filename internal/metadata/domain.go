// Package metadata defines the archival domain entities and the Repository
// interface over the metadata database: table configurations, archival file
// records, lifecycle policies, and run audit history.
package metadata

import (
	"time"
)

// DateType classifies the calendar position of an as-of date. End-of-year
// dates are also end-of-quarter, end-of-month and end-of-day; classification
// always picks the most specific type.
type DateType string

const (
	DateTypeEOD      DateType = "EOD"
	DateTypeEOM      DateType = "EOM"
	DateTypeEOQ      DateType = "EOQ"
	DateTypeEOY      DateType = "EOY"
	DateTypeExternal DateType = "External"
)

// FileStatus is the lifecycle state of an archival file record.
// Records are never physically removed; deletion only marks them.
type FileStatus string

const (
	FileStatusCreated FileStatus = "Created"
	FileStatusActive  FileStatus = "Active"
	FileStatusDeleted FileStatus = "Deleted"
)

// Phase identifies which stage of the pipeline produced a run detail.
type Phase string

const (
	PhaseExport    Phase = "Export"
	PhaseDelete    Phase = "Delete"
	PhaseLifecycle Phase = "Lifecycle"
)

// DetailStatus is the terminal outcome of one (table, date, phase) step.
type DetailStatus string

const (
	DetailSkipped DetailStatus = "Skipped"
	DetailSuccess DetailStatus = "Success"
	DetailFailed  DetailStatus = "Failed"
)

// RunStatus is the aggregate outcome of one orchestration run.
type RunStatus string

const (
	RunStarted RunStatus = "Started"
	RunSuccess RunStatus = "Success"
	RunPartial RunStatus = "Partial"
	RunFailed  RunStatus = "Failed"
)

// TableConfiguration identifies one source table and its archival
// destination. Immutable during a run; lifecycle owned by configuration
// management.
type TableConfiguration struct {
	ID int64

	// SourceName names the configured source database connection.
	SourceName string

	DatabaseName string
	SchemaName   string
	TableName    string

	// AsOfColumn is the column holding the logical snapshot date.
	AsOfColumn string

	// Destination in object storage.
	StorageAccount string
	Container      string
	PathPrefix     string

	// DeleteFromSource enables post-export source row deletion.
	DeleteFromSource bool

	// RetainDays is the hot retention window; as-of dates older than this
	// are archival candidates.
	RetainDays int

	// PolicyID references the inherited lifecycle policy, if any.
	PolicyID *int64

	Active bool
}

// QualifiedName returns schema.table for logging.
func (c *TableConfiguration) QualifiedName() string {
	if c.SchemaName == "" {
		return c.TableName
	}
	return c.SchemaName + "." + c.TableName
}

// ArchivalFile is one row per exported Parquet part. A row exists iff an
// export attempt reached the upload-initiation stage; the orchestrator
// treats existence as the at-most-once guard against re-export.
type ArchivalFile struct {
	ID                   int64
	TableConfigurationID int64

	AsOfDate time.Time
	DateType DateType

	StorageAccount string
	Container      string
	BlobPath       string

	ETag      string
	SizeBytes int64
	RowCount  int64

	Status            FileStatus
	CurrentAccessTier string
	LastTierCheckAt   *time.Time

	// OverridePolicyID, when set, takes precedence over the table
	// configuration's inherited policy.
	OverridePolicyID *int64

	CreatedAt time.Time
}

// LifecyclePolicy holds per-date-type threshold triples in days. Every
// threshold is optional; a nil threshold means the corresponding action is
// never taken. Misordered thresholds are tolerated by evaluating
// delete before archive before cool.
type LifecyclePolicy struct {
	ID   int64
	Name string

	EODCoolDays    *int
	EODArchiveDays *int
	EODDeleteDays  *int

	EOMCoolDays    *int
	EOMArchiveDays *int
	EOMDeleteDays  *int

	EOQCoolDays    *int
	EOQArchiveDays *int
	EOQDeleteDays  *int

	EOYCoolDays    *int
	EOYArchiveDays *int
	EOYDeleteDays  *int

	ExternalCoolDays    *int
	ExternalArchiveDays *int
	ExternalDeleteDays  *int
}

// Thresholds returns the (cool, archive, delete) day thresholds for the
// given date type. Unknown date types fall back to the External triple.
func (p *LifecyclePolicy) Thresholds(dt DateType) (cool, archive, del *int) {
	switch dt {
	case DateTypeEOD:
		return p.EODCoolDays, p.EODArchiveDays, p.EODDeleteDays
	case DateTypeEOM:
		return p.EOMCoolDays, p.EOMArchiveDays, p.EOMDeleteDays
	case DateTypeEOQ:
		return p.EOQCoolDays, p.EOQArchiveDays, p.EOQDeleteDays
	case DateTypeEOY:
		return p.EOYCoolDays, p.EOYArchiveDays, p.EOYDeleteDays
	default:
		return p.ExternalCoolDays, p.ExternalArchiveDays, p.ExternalDeleteDays
	}
}

// Run is the audit record of one orchestration invocation.
type Run struct {
	ID          int64
	Scope       string
	Status      RunStatus
	Message     string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunDetail records one per-(table, date, phase) outcome within a run.
type RunDetail struct {
	ID                   int64
	RunID                int64
	TableConfigurationID int64
	AsOfDate             time.Time
	DateType             DateType
	Phase                Phase
	Status               DetailStatus
	ArchivalFileID       *int64
	RowsAffected         int64
	FilePath             string
	Message              string
	CreatedAt            time.Time
}

// Scope is one enforcement target: a storage account and optionally a
// container within it.
type Scope struct {
	Account   string
	Container string
}

func (s Scope) String() string {
	if s.Container == "" {
		return s.Account
	}
	return s.Account + "/" + s.Container
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayNumber returns the number of whole days since the Unix epoch for the
// calendar date of t. Ages are computed as day-number differences so that
// time-of-day never shifts a threshold decision.
func DayNumber(t time.Time) int {
	return int(DateOf(t).Unix() / 86400)
}

// ClassifyDate returns the most specific calendar date type for d:
// end-of-year dates are EOY, other quarter ends EOQ, other month ends EOM,
// everything else EOD.
func ClassifyDate(d time.Time) DateType {
	d = DateOf(d)
	lastOfMonth := time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	if d.Day() != lastOfMonth.Day() {
		return DateTypeEOD
	}
	switch d.Month() {
	case time.December:
		return DateTypeEOY
	case time.March, time.June, time.September:
		return DateTypeEOQ
	default:
		return DateTypeEOM
	}
}

package metadata

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Repository implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("metadata: not found")
)

// CandidateFilter selects archival files for lifecycle enforcement.
// Zero-valued fields do not filter.
type CandidateFilter struct {
	// Account restricts candidates to one storage account.
	Account string

	// Container restricts candidates to one container within the account.
	Container string

	// PathPrefix restricts candidates to blob paths under the prefix.
	PathPrefix string

	// TableConfigurationIDs restricts candidates to the given configurations.
	TableConfigurationIDs []int64

	// CheckedBefore excludes files whose last tier check is at or after this
	// time. Files never checked always qualify.
	CheckedBefore time.Time
}

// Repository is the persistence boundary for archival metadata. All methods
// honor context cancellation.
type Repository interface {
	// CreateFile inserts a new archival file record and sets its ID.
	CreateFile(ctx context.Context, file *ArchivalFile) error

	// UpdateFile persists all mutable fields of one file record.
	UpdateFile(ctx context.Context, file *ArchivalFile) error

	// BulkUpdateFiles persists mutable fields for many file records in one
	// round trip. Used by lifecycle enforcement's end-of-pass flush.
	BulkUpdateFiles(ctx context.Context, files []*ArchivalFile) error

	// ActiveFileExists reports whether any non-Deleted file exists for the
	// (table configuration, as-of date) pair.
	ActiveFileExists(ctx context.Context, tableConfigID int64, asOf time.Time) (bool, error)

	// FileCandidates returns files eligible for lifecycle evaluation:
	// not Deleted, matching the filter, ordered by ID.
	FileCandidates(ctx context.Context, filter CandidateFilter) ([]*ArchivalFile, error)

	// PoliciesByIDs returns the lifecycle policies with the given IDs.
	// Missing IDs are absent from the result, not an error.
	PoliciesByIDs(ctx context.Context, ids []int64) (map[int64]*LifecyclePolicy, error)

	// TableConfiguration returns one configuration by ID.
	TableConfiguration(ctx context.Context, id int64) (*TableConfiguration, error)

	// ActiveTableConfigurations returns all active configurations.
	ActiveTableConfigurations(ctx context.Context) ([]*TableConfiguration, error)

	// DistinctActiveScopes returns the distinct (account, container) pairs
	// across active configurations.
	DistinctActiveScopes(ctx context.Context) ([]Scope, error)

	// StartRun opens a run for the given scope and returns its ID.
	StartRun(ctx context.Context, scope string) (int64, error)

	// CompleteRun finalizes a run with its aggregate status and message.
	CompleteRun(ctx context.Context, runID int64, status RunStatus, message string) error

	// LogDetail inserts one run detail row.
	LogDetail(ctx context.Context, detail *RunDetail) error

	// BulkInsertDetails inserts many run detail rows in one round trip.
	BulkInsertDetails(ctx context.Context, details []*RunDetail) error

	// IsExempt reports whether the (table configuration, as-of date) pair is
	// exempt from archival.
	IsExempt(ctx context.Context, tableConfigID int64, asOf time.Time) (bool, error)
}

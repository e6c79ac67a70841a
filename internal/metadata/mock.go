package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockRepository is an in-memory implementation of Repository for testing.
type MockRepository struct {
	mu sync.Mutex

	files    map[int64]*ArchivalFile
	policies map[int64]*LifecyclePolicy
	configs  map[int64]*TableConfiguration
	runs     map[int64]*Run
	details  []*RunDetail
	exempt   map[string]bool

	nextFileID int64
	nextRunID  int64

	// FailOps maps method names to a forced error for the next matching call.
	FailOps map[string]error

	bulkFileUpdates   int
	bulkDetailInserts int
}

// NewMockRepository creates an empty MockRepository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		files:    make(map[int64]*ArchivalFile),
		policies: make(map[int64]*LifecyclePolicy),
		configs:  make(map[int64]*TableConfiguration),
		runs:     make(map[int64]*Run),
		exempt:   make(map[string]bool),
		FailOps:  make(map[string]error),
	}
}

func (r *MockRepository) fail(op string) error {
	if err := r.FailOps[op]; err != nil {
		delete(r.FailOps, op)
		return err
	}
	return nil
}

func exemptKey(tableConfigID int64, asOf time.Time) string {
	return fmt.Sprintf("%d#%s", tableConfigID, DateOf(asOf).Format("2006-01-02"))
}

// AddPolicy seeds a policy.
func (r *MockRepository) AddPolicy(p *LifecyclePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = p
}

// AddConfig seeds a table configuration.
func (r *MockRepository) AddConfig(c *TableConfiguration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[c.ID] = c
}

// AddFile seeds a file record, assigning an ID when absent.
func (r *MockRepository) AddFile(f *ArchivalFile) *ArchivalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == 0 {
		r.nextFileID++
		f.ID = r.nextFileID
	} else if f.ID > r.nextFileID {
		r.nextFileID = f.ID
	}
	r.files[f.ID] = f
	return f
}

// SetExempt marks the pair exempt from archival.
func (r *MockRepository) SetExempt(tableConfigID int64, asOf time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exempt[exemptKey(tableConfigID, asOf)] = true
}

// File returns the stored file by ID, or nil.
func (r *MockRepository) File(id int64) *ArchivalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[id]
}

// Files returns all stored files.
func (r *MockRepository) Files() []*ArchivalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ArchivalFile, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	return out
}

// Run returns the stored run by ID, or nil.
func (r *MockRepository) Run(id int64) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

// Details returns all logged run details.
func (r *MockRepository) Details() []*RunDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RunDetail, len(r.details))
	copy(out, r.details)
	return out
}

// DetailsByPhase returns logged details for one phase.
func (r *MockRepository) DetailsByPhase(phase Phase) []*RunDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*RunDetail
	for _, d := range r.details {
		if d.Phase == phase {
			out = append(out, d)
		}
	}
	return out
}

// BulkFileUpdateCount returns how many BulkUpdateFiles calls succeeded.
func (r *MockRepository) BulkFileUpdateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bulkFileUpdates
}

// BulkDetailInsertCount returns how many BulkInsertDetails calls succeeded.
func (r *MockRepository) BulkDetailInsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bulkDetailInserts
}

// CreateFile inserts a file and assigns its ID.
func (r *MockRepository) CreateFile(ctx context.Context, file *ArchivalFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreateFile"); err != nil {
		return err
	}
	r.nextFileID++
	file.ID = r.nextFileID
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

// UpdateFile persists one file.
func (r *MockRepository) UpdateFile(ctx context.Context, file *ArchivalFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateFile"); err != nil {
		return err
	}
	if _, ok := r.files[file.ID]; !ok {
		return ErrNotFound
	}
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

// BulkUpdateFiles persists many files.
func (r *MockRepository) BulkUpdateFiles(ctx context.Context, files []*ArchivalFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("BulkUpdateFiles"); err != nil {
		return err
	}
	for _, f := range files {
		clone := *f
		r.files[f.ID] = &clone
	}
	r.bulkFileUpdates++
	return nil
}

// ActiveFileExists reports whether a non-Deleted file exists for the pair.
func (r *MockRepository) ActiveFileExists(ctx context.Context, tableConfigID int64, asOf time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ActiveFileExists"); err != nil {
		return false, err
	}
	date := DateOf(asOf)
	for _, f := range r.files {
		if f.TableConfigurationID == tableConfigID && DateOf(f.AsOfDate).Equal(date) && f.Status != FileStatusDeleted {
			return true, nil
		}
	}
	return false, nil
}

// FileCandidates returns matching non-Deleted files ordered by ID.
func (r *MockRepository) FileCandidates(ctx context.Context, filter CandidateFilter) ([]*ArchivalFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("FileCandidates"); err != nil {
		return nil, err
	}

	wantIDs := make(map[int64]bool, len(filter.TableConfigurationIDs))
	for _, id := range filter.TableConfigurationIDs {
		wantIDs[id] = true
	}

	var out []*ArchivalFile
	for id := int64(1); id <= r.nextFileID; id++ {
		f, ok := r.files[id]
		if !ok || f.Status == FileStatusDeleted {
			continue
		}
		if filter.Account != "" && f.StorageAccount != filter.Account {
			continue
		}
		if filter.Container != "" && f.Container != filter.Container {
			continue
		}
		if filter.PathPrefix != "" && !strings.HasPrefix(f.BlobPath, filter.PathPrefix) {
			continue
		}
		if len(wantIDs) > 0 && !wantIDs[f.TableConfigurationID] {
			continue
		}
		if !filter.CheckedBefore.IsZero() && f.LastTierCheckAt != nil && !f.LastTierCheckAt.Before(filter.CheckedBefore) {
			continue
		}
		clone := *f
		out = append(out, &clone)
	}
	return out, nil
}

// PoliciesByIDs returns seeded policies for the given IDs.
func (r *MockRepository) PoliciesByIDs(ctx context.Context, ids []int64) (map[int64]*LifecyclePolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("PoliciesByIDs"); err != nil {
		return nil, err
	}
	out := make(map[int64]*LifecyclePolicy)
	for _, id := range ids {
		if p, ok := r.policies[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// TableConfiguration returns one seeded configuration.
func (r *MockRepository) TableConfiguration(ctx context.Context, id int64) (*TableConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("TableConfiguration"); err != nil {
		return nil, err
	}
	c, ok := r.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// ActiveTableConfigurations returns all seeded active configurations.
func (r *MockRepository) ActiveTableConfigurations(ctx context.Context) ([]*TableConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ActiveTableConfigurations"); err != nil {
		return nil, err
	}
	var out []*TableConfiguration
	for _, c := range r.configs {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DistinctActiveScopes returns distinct scopes across active configurations.
func (r *MockRepository) DistinctActiveScopes(ctx context.Context) ([]Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("DistinctActiveScopes"); err != nil {
		return nil, err
	}
	seen := make(map[Scope]bool)
	var out []Scope
	for _, c := range r.configs {
		if !c.Active {
			continue
		}
		s := Scope{Account: c.StorageAccount, Container: c.Container}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// StartRun opens a run.
func (r *MockRepository) StartRun(ctx context.Context, scope string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("StartRun"); err != nil {
		return 0, err
	}
	r.nextRunID++
	r.runs[r.nextRunID] = &Run{
		ID:        r.nextRunID,
		Scope:     scope,
		Status:    RunStarted,
		StartedAt: time.Now().UTC(),
	}
	return r.nextRunID, nil
}

// CompleteRun finalizes a run.
func (r *MockRepository) CompleteRun(ctx context.Context, runID int64, status RunStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CompleteRun"); err != nil {
		return err
	}
	run, ok := r.runs[runID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.Message = message
	run.CompletedAt = &now
	return nil
}

// LogDetail records one run detail.
func (r *MockRepository) LogDetail(ctx context.Context, detail *RunDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("LogDetail"); err != nil {
		return err
	}
	clone := *detail
	clone.ID = int64(len(r.details) + 1)
	r.details = append(r.details, &clone)
	return nil
}

// BulkInsertDetails records many run details.
func (r *MockRepository) BulkInsertDetails(ctx context.Context, details []*RunDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("BulkInsertDetails"); err != nil {
		return err
	}
	for _, d := range details {
		clone := *d
		clone.ID = int64(len(r.details) + 1)
		r.details = append(r.details, &clone)
	}
	r.bulkDetailInserts++
	return nil
}

// IsExempt reports a seeded exemption.
func (r *MockRepository) IsExempt(ctx context.Context, tableConfigID int64, asOf time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("IsExempt"); err != nil {
		return false, err
	}
	return r.exempt[exemptKey(tableConfigID, asOf)], nil
}

// Verify interface compliance at compile time.
var _ Repository = (*MockRepository)(nil)

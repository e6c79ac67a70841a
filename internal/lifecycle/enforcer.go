package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/coldstore-io/coldstore/internal/logging"
	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/metrics"
	"github.com/coldstore-io/coldstore/internal/objectstore"
)

const (
	defaultWorkers          = 8
	defaultMinCheckInterval = 24 * time.Hour
)

// Options tune one enforcement pass.
type Options struct {
	// Workers bounds concurrent per-file enforcement within a scope.
	Workers int

	// MinCheckInterval excludes files whose last tier check is more recent
	// than this.
	MinCheckInterval time.Duration

	// PathPrefix restricts enforcement to files whose blob path starts with
	// the prefix. Empty means the whole scope.
	PathPrefix string

	// DryRun computes and records decisions without touching storage or
	// changing file status.
	DryRun bool

	// AdvanceChecksOnDryRun stamps the last-checked time on dry runs, so a
	// dry run consumes the check interval like a real pass would.
	AdvanceChecksOnDryRun bool
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = defaultWorkers
	}
	if o.MinCheckInterval <= 0 {
		o.MinCheckInterval = defaultMinCheckInterval
	}
	return o
}

// Result aggregates one enforcement pass over a scope.
type Result struct {
	Checked  int
	Cooled   int
	Archived int
	Deleted  int
	Failed   int
	Skipped  int
}

func (r Result) String() string {
	return fmt.Sprintf("checked=%d cooled=%d archived=%d deleted=%d failed=%d skipped=%d",
		r.Checked, r.Cooled, r.Archived, r.Deleted, r.Failed, r.Skipped)
}

// Enforcer applies lifecycle policy to the archived files of one scope.
type Enforcer struct {
	repo    metadata.Repository
	store   objectstore.Store
	metrics *metrics.LifecycleMetrics
	log     *logging.Logger
	opts    Options
	now     func() time.Time
}

// NewEnforcer wires an enforcer. metrics may be nil.
func NewEnforcer(repo metadata.Repository, store objectstore.Store, opts Options, m *metrics.LifecycleMetrics, log *logging.Logger) *Enforcer {
	if log == nil {
		log = logging.Global()
	}
	return &Enforcer{
		repo:    repo,
		store:   store,
		metrics: m,
		log:     log.WithScope("lifecycle"),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

type outcome struct {
	file     *metadata.ArchivalFile
	update   bool
	detail   *metadata.RunDetail
	achieved objectstore.Tier
	deleted  bool
	failed   bool
	skipped  bool
}

// EnforceScope evaluates every due candidate file in the scope, applying
// transitions and deletions with bounded worker concurrency. File updates
// and run details are flushed in one bulk write each at the end of the
// pass, including on cancellation.
func (e *Enforcer) EnforceScope(ctx context.Context, runID int64, scope metadata.Scope, tableIDs []int64) (Result, error) {
	start := e.now()
	now := start.UTC()
	log := e.log.WithRunID(runID).With(map[string]any{"scope": scope.String()})

	files, err := e.repo.FileCandidates(ctx, metadata.CandidateFilter{
		Account:               scope.Account,
		Container:             scope.Container,
		PathPrefix:            e.opts.PathPrefix,
		TableConfigurationIDs: tableIDs,
		CheckedBefore:         now.Add(-e.opts.MinCheckInterval),
	})
	if err != nil {
		return Result{}, fmt.Errorf("lifecycle: list candidates for %s: %w", scope, err)
	}
	if len(files) == 0 {
		log.Debug("no candidate files")
		return Result{}, nil
	}

	configs, policies, err := e.preload(ctx, files)
	if err != nil {
		return Result{}, err
	}

	log.Infof("enforcing lifecycle policy", map[string]any{
		"files":   len(files),
		"dry_run": e.opts.DryRun,
	})

	var (
		jobs     = make(chan *metadata.ArchivalFile)
		outcomes = make(chan outcome)
		wg       sync.WaitGroup

		res     Result
		updates []*metadata.ArchivalFile
		details []*metadata.RunDetail
		done    = make(chan struct{})
	)

	go func() {
		defer close(done)
		for out := range outcomes {
			res.Checked++
			switch {
			case out.failed:
				res.Failed++
				e.metrics.RecordFailure()
			case out.skipped:
				res.Skipped++
			case out.deleted:
				res.Deleted++
				e.metrics.RecordDeletion()
			case out.achieved == objectstore.TierCool:
				res.Cooled++
				e.metrics.RecordTransition(string(out.achieved))
			case out.achieved == objectstore.TierArchive:
				res.Archived++
				e.metrics.RecordTransition(string(out.achieved))
			}
			if out.update {
				updates = append(updates, out.file)
			}
			if out.detail != nil {
				details = append(details, out.detail)
			}
		}
	}()

	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				outcomes <- e.enforceFile(ctx, runID, f, configs, policies, now)
			}
		}()
	}

	var feedErr error
feed:
	for _, f := range files {
		select {
		case <-ctx.Done():
			feedErr = ctx.Err()
			break feed
		case jobs <- f:
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)
	<-done

	e.metrics.RecordChecked(res.Checked)

	// Flush even a cancelled pass so completed work is not repeated.
	flushCtx := context.WithoutCancel(ctx)
	var errs *multierror.Error
	if feedErr != nil {
		errs = multierror.Append(errs, feedErr)
	}
	if len(updates) > 0 {
		if err := e.repo.BulkUpdateFiles(flushCtx, updates); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("lifecycle: flush file updates: %w", err))
		}
	}
	if len(details) > 0 {
		if err := e.repo.BulkInsertDetails(flushCtx, details); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("lifecycle: flush run details: %w", err))
		}
	}

	e.metrics.RecordEnforcement(scope.String(), e.now().Sub(start).Seconds())
	log.Infof("enforcement pass complete", map[string]any{"result": res.String()})
	return res, errs.ErrorOrNil()
}

// preload fetches the table configurations and lifecycle policies the
// candidate set references.
func (e *Enforcer) preload(ctx context.Context, files []*metadata.ArchivalFile) (map[int64]*metadata.TableConfiguration, map[int64]*metadata.LifecyclePolicy, error) {
	configs := make(map[int64]*metadata.TableConfiguration)
	for _, f := range files {
		if _, ok := configs[f.TableConfigurationID]; ok {
			continue
		}
		cfg, err := e.repo.TableConfiguration(ctx, f.TableConfigurationID)
		if err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				continue
			}
			return nil, nil, fmt.Errorf("lifecycle: load table configuration %d: %w", f.TableConfigurationID, err)
		}
		configs[f.TableConfigurationID] = cfg
	}

	idSet := make(map[int64]struct{})
	for _, f := range files {
		if id, ok := effectivePolicyID(f, configs[f.TableConfigurationID]); ok {
			idSet[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	policies, err := e.repo.PoliciesByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("lifecycle: load policies: %w", err)
	}
	return configs, policies, nil
}

func (e *Enforcer) detail(runID int64, f *metadata.ArchivalFile, status metadata.DetailStatus) *metadata.RunDetail {
	id := f.ID
	return &metadata.RunDetail{
		RunID:                runID,
		TableConfigurationID: f.TableConfigurationID,
		AsOfDate:             f.AsOfDate,
		DateType:             f.DateType,
		Phase:                metadata.PhaseLifecycle,
		Status:               status,
		ArchivalFileID:       &id,
		FilePath:             f.BlobPath,
		CreatedAt:            e.now().UTC(),
	}
}

func stamp(f *metadata.ArchivalFile, now time.Time) {
	t := now
	f.LastTierCheckAt = &t
}

// enforceFile decides and applies one file's lifecycle action.
func (e *Enforcer) enforceFile(ctx context.Context, runID int64, f *metadata.ArchivalFile, configs map[int64]*metadata.TableConfiguration, policies map[int64]*metadata.LifecyclePolicy, now time.Time) outcome {
	pid, ok := effectivePolicyID(f, configs[f.TableConfigurationID])
	if !ok {
		return e.noPolicyOutcome(runID, f)
	}
	policy := policies[pid]
	if policy == nil {
		return e.noPolicyOutcome(runID, f)
	}

	action := Decide(policy, f.DateType, AgeDays(f, now))
	if action == ActionNone {
		stamp(f, now)
		return outcome{file: f, update: true, skipped: true}
	}

	loc := objectstore.Location{Account: f.StorageAccount, Container: f.Container, Key: f.BlobPath}

	if action == ActionDelete {
		return e.deleteFile(ctx, runID, f, loc, now)
	}
	return e.transitionFile(ctx, runID, f, loc, action, now)
}

// noPolicyOutcome records a file whose lifecycle policy cannot be resolved
// as failed. The check stamp is not advanced, so the file is reconsidered
// as soon as a policy is configured.
func (e *Enforcer) noPolicyOutcome(runID int64, f *metadata.ArchivalFile) outcome {
	d := e.detail(runID, f, metadata.DetailFailed)
	d.Message = "NoPolicyResolved"
	return outcome{file: f, detail: d, failed: true}
}

func (e *Enforcer) dryRunOutcome(runID int64, f *metadata.ArchivalFile, action Action, now time.Time) outcome {
	d := e.detail(runID, f, metadata.DetailSkipped)
	d.Message = "DryRun:" + action.String()
	update := false
	if e.opts.AdvanceChecksOnDryRun {
		stamp(f, now)
		update = true
	}
	return outcome{file: f, update: update, detail: d, skipped: true}
}

func (e *Enforcer) deleteFile(ctx context.Context, runID int64, f *metadata.ArchivalFile, loc objectstore.Location, now time.Time) outcome {
	if e.opts.DryRun {
		return e.dryRunOutcome(runID, f, ActionDelete, now)
	}

	if err := e.store.DeleteIfExists(ctx, loc, true); err != nil {
		d := e.detail(runID, f, metadata.DetailFailed)
		d.Message = err.Error()
		return outcome{file: f, detail: d, failed: true}
	}

	f.Status = metadata.FileStatusDeleted
	stamp(f, now)
	d := e.detail(runID, f, metadata.DetailSuccess)
	d.Message = "Deleted"
	return outcome{file: f, update: true, detail: d, deleted: true}
}

func (e *Enforcer) transitionFile(ctx context.Context, runID int64, f *metadata.ArchivalFile, loc objectstore.Location, action Action, now time.Time) outcome {
	target, _ := action.TargetTier()
	current := objectstore.ParseTier(f.CurrentAccessTier)
	if tierReached(current, target) {
		stamp(f, now)
		return outcome{file: f, update: true, skipped: true}
	}
	if e.opts.DryRun {
		return e.dryRunOutcome(runID, f, action, now)
	}

	achieved := target
	message := "SetTier=" + string(target)
	err := e.store.SetAccessTier(ctx, loc, target)
	if errors.Is(err, objectstore.ErrTierNotSupported) && target == objectstore.TierArchive {
		// Account cannot serve Archive; settle for Cool when that is still
		// a move down.
		if tierReached(current, objectstore.TierCool) {
			stamp(f, now)
			d := e.detail(runID, f, metadata.DetailSkipped)
			d.Message = "ArchiveNotSupported"
			return outcome{file: f, update: true, detail: d, skipped: true}
		}
		achieved = objectstore.TierCool
		message = "SetTier=Cool(ArchiveNotSupported)"
		err = e.store.SetAccessTier(ctx, loc, objectstore.TierCool)
	}
	if err != nil {
		d := e.detail(runID, f, metadata.DetailFailed)
		d.Message = err.Error()
		return outcome{file: f, detail: d, failed: true}
	}

	f.CurrentAccessTier = string(achieved)
	stamp(f, now)
	d := e.detail(runID, f, metadata.DetailSuccess)
	d.Message = message
	return outcome{file: f, update: true, detail: d, achieved: achieved}
}

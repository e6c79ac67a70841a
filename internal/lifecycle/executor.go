package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/coldstore-io/coldstore/internal/logging"
	"github.com/coldstore-io/coldstore/internal/metadata"
)

// defaultScopeParallelism bounds concurrent scopes within one storage
// account. Accounts themselves are processed sequentially so one slow or
// throttling account never starves the others of their budget.
const defaultScopeParallelism = 4

// Executor discovers enforcement scopes and drives an enforcement pass per
// scope, each wrapped in its own audit run.
type Executor struct {
	repo     metadata.Repository
	enforcer *Enforcer
	log      *logging.Logger

	scopeParallelism int
}

// NewExecutor wires an executor. A non-positive scopeParallelism takes the
// default.
func NewExecutor(repo metadata.Repository, enforcer *Enforcer, scopeParallelism int, log *logging.Logger) *Executor {
	if scopeParallelism < 1 {
		scopeParallelism = defaultScopeParallelism
	}
	if log == nil {
		log = logging.Global()
	}
	return &Executor{
		repo:             repo,
		enforcer:         enforcer,
		log:              log.WithScope("lifecycle"),
		scopeParallelism: scopeParallelism,
	}
}

// scopeSet maps each scope to the table configuration IDs it covers; nil
// IDs means the whole scope.
type scopeSet map[metadata.Scope][]int64

// discoverScopes resolves the scopes to enforce. Explicit table
// configuration IDs restrict enforcement to their scopes; otherwise every
// distinct active (account, container) pair is enforced.
func (x *Executor) discoverScopes(ctx context.Context, tableIDs []int64) (scopeSet, error) {
	scopes := make(scopeSet)

	if len(tableIDs) > 0 {
		for _, id := range tableIDs {
			cfg, err := x.repo.TableConfiguration(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("lifecycle: resolve table configuration %d: %w", id, err)
			}
			s := metadata.Scope{Account: cfg.StorageAccount, Container: cfg.Container}
			scopes[s] = append(scopes[s], cfg.ID)
		}
		return scopes, nil
	}

	active, err := x.repo.DistinctActiveScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list active scopes: %w", err)
	}
	for _, s := range active {
		scopes[s] = nil
	}
	return scopes, nil
}

// Run enforces lifecycle policy across all discovered scopes. Scopes in
// different accounts run sequentially; scopes within one account run with
// bounded parallelism. Each scope gets its own audit run; scope failures
// are aggregated and do not stop other scopes.
func (x *Executor) Run(ctx context.Context, tableIDs []int64) (Result, error) {
	scopes, err := x.discoverScopes(ctx, tableIDs)
	if err != nil {
		return Result{}, err
	}
	if len(scopes) == 0 {
		x.log.Debug("no scopes to enforce")
		return Result{}, nil
	}

	byAccount := make(map[string][]metadata.Scope)
	for s := range scopes {
		byAccount[s.Account] = append(byAccount[s.Account], s)
	}
	accounts := make([]string, 0, len(byAccount))
	for a := range byAccount {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	var (
		mu    sync.Mutex
		total Result
		errs  *multierror.Error
	)

	for _, account := range accounts {
		group := byAccount[account]
		sort.Slice(group, func(i, j int) bool { return group[i].Container < group[j].Container })

		sem := make(chan struct{}, x.scopeParallelism)
		var wg sync.WaitGroup
		for _, scope := range group {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(scope metadata.Scope) {
				defer wg.Done()
				defer func() { <-sem }()

				res, err := x.runScope(ctx, scope, scopes[scope])

				mu.Lock()
				defer mu.Unlock()
				total.Checked += res.Checked
				total.Cooled += res.Cooled
				total.Archived += res.Archived
				total.Deleted += res.Deleted
				total.Failed += res.Failed
				total.Skipped += res.Skipped
				if err != nil {
					errs = multierror.Append(errs, err)
				}
			}(scope)
		}
		wg.Wait()
	}

	if ctx.Err() != nil {
		errs = multierror.Append(errs, ctx.Err())
	}
	return total, errs.ErrorOrNil()
}

// RunScope enforces exactly one explicit scope, bypassing discovery. A
// scope with an empty container covers the whole storage account.
func (x *Executor) RunScope(ctx context.Context, scope metadata.Scope) (Result, error) {
	return x.runScope(ctx, scope, nil)
}

// runScope wraps one scope's enforcement in an audit run.
func (x *Executor) runScope(ctx context.Context, scope metadata.Scope, tableIDs []int64) (Result, error) {
	runID, err := x.repo.StartRun(ctx, scope.String())
	if err != nil {
		return Result{Failed: 1}, fmt.Errorf("lifecycle: start run for %s: %w", scope, err)
	}
	log := x.log.WithRunID(runID).With(map[string]any{"scope": scope.String()})

	res, err := x.enforcer.EnforceScope(ctx, runID, scope, tableIDs)

	status := metadata.RunSuccess
	message := res.String()
	switch {
	case err != nil:
		status = metadata.RunFailed
		message = err.Error()
		if res.Failed == 0 {
			// The scope failed before per-file outcomes existed; surface it
			// as a failure rather than a clean zero.
			res.Failed = 1
		}
	case res.Failed > 0:
		// Per-file failures leave a Partial run; Failed is reserved for a
		// scope that could not be enforced at all.
		status = metadata.RunPartial
	}

	if cErr := x.repo.CompleteRun(context.WithoutCancel(ctx), runID, status, message); cErr != nil {
		log.Errorf("failed to complete run", map[string]any{"error": cErr.Error()})
	}
	if err != nil {
		return res, fmt.Errorf("lifecycle: scope %s: %w", scope, err)
	}
	return res, nil
}

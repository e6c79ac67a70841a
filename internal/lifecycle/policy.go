// Package lifecycle implements age-based tier and retention enforcement
// over archived Parquet parts: each file's effective policy is evaluated
// against its age and the blob is cooled, archived, or deleted accordingly.
package lifecycle

import (
	"time"

	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/objectstore"
)

// Action is the outcome of evaluating a policy against a file's age.
type Action int

const (
	ActionNone Action = iota
	ActionCool
	ActionArchive
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCool:
		return "Cool"
	case ActionArchive:
		return "Archive"
	case ActionDelete:
		return "Delete"
	default:
		return "None"
	}
}

// TargetTier returns the storage tier an action moves a blob to.
// ActionNone and ActionDelete have no target tier.
func (a Action) TargetTier() (objectstore.Tier, bool) {
	switch a {
	case ActionCool:
		return objectstore.TierCool, true
	case ActionArchive:
		return objectstore.TierArchive, true
	default:
		return "", false
	}
}

// AgeDays returns the file's age in whole days at now, measured from its
// as-of date, falling back to the record creation time when the as-of date
// is unset.
func AgeDays(f *metadata.ArchivalFile, now time.Time) int {
	ref := f.AsOfDate
	if ref.IsZero() {
		ref = f.CreatedAt
	}
	return metadata.DayNumber(now) - metadata.DayNumber(ref)
}

// Decide evaluates the policy's threshold triple for the date type at the
// given age. Delete wins over archive wins over cool, so misordered
// thresholds still resolve to the most aggressive applicable action. A nil
// policy never acts.
func Decide(p *metadata.LifecyclePolicy, dt metadata.DateType, ageDays int) Action {
	if p == nil {
		return ActionNone
	}
	cool, archive, del := p.Thresholds(dt)
	switch {
	case del != nil && ageDays >= *del:
		return ActionDelete
	case archive != nil && ageDays >= *archive:
		return ActionArchive
	case cool != nil && ageDays >= *cool:
		return ActionCool
	default:
		return ActionNone
	}
}

// tierRank orders access tiers from hottest to coldest. Unknown tiers rank
// hottest so enforcement never skips a transition it cannot reason about.
func tierRank(t objectstore.Tier) int {
	switch t {
	case objectstore.TierCool:
		return 1
	case objectstore.TierArchive:
		return 2
	default:
		return 0
	}
}

// tierReached reports whether current is already at or colder than target.
func tierReached(current, target objectstore.Tier) bool {
	return tierRank(current) >= tierRank(target)
}

// effectivePolicyID resolves the policy governing a file: a per-file
// override beats the table configuration's policy.
func effectivePolicyID(f *metadata.ArchivalFile, cfg *metadata.TableConfiguration) (int64, bool) {
	if f.OverridePolicyID != nil {
		return *f.OverridePolicyID, true
	}
	if cfg != nil && cfg.PolicyID != nil {
		return *cfg.PolicyID, true
	}
	return 0, false
}

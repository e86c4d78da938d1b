package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/docsync-api/internal/fanout"
	"github.com/phrazzld/docsync-api/internal/metrics"
)

// DefaultRetryBudget is the number of retries after the first attempt.
const DefaultRetryBudget = 2

// ErrFatal marks an outcome the batch cannot recover from.
var ErrFatal = errors.New("batch write failed")

// Kind classifies the response to one bulk attempt.
type Kind int

// Outcome kinds
const (
	Success Kind = iota
	Duplicate
	Failed
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the parsed result of one bulk attempt.
type Outcome struct {
	Kind    Kind
	IDs     []string
	Message string
}

// Succeeded reports a fully applied attempt.
func Succeeded() Outcome { return Outcome{Kind: Success} }

// DuplicateOf reports ids the store already holds.
func DuplicateOf(ids ...string) Outcome { return Outcome{Kind: Duplicate, IDs: ids} }

// FailedOf reports ids the store rejected.
func FailedOf(ids ...string) Outcome { return Outcome{Kind: Failed, IDs: ids} }

// FatalOf reports an attempt that cannot be retried.
func FatalOf(message string) Outcome { return Outcome{Kind: Fatal, Message: message} }

// Attempt sends one bulk request for items.
type Attempt[T any] func(ctx context.Context, items []T) (Outcome, error)

// Plan describes how to write a batch of items.
type Plan[T any] struct {
	// Attempt performs the primary write.
	Attempt Attempt[T]
	// OnDuplicate, when set, is attempted for the items that were not
	// reported as duplicates, and its outcome replaces the round's.
	OnDuplicate Attempt[T]
	// ID returns the identifier the store reports items by.
	ID func(T) string
	// RetryBudget is the number of extra rounds allowed after the first.
	RetryBudget int
	// Limit is the maximum number of items per request. Zero disables chunking.
	Limit int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Apply writes items and reports, per item and in input order, whether it
// was written. Inputs larger than the plan's limit are split into chunks
// that are written concurrently.
func Apply[T any](ctx context.Context, plan Plan[T], items []T) ([]bool, error) {
	if plan.Attempt == nil || plan.ID == nil {
		return nil, errors.New("batch plan requires Attempt and ID")
	}
	if plan.Logger == nil {
		plan.Logger = slog.Default()
	}
	if plan.RetryBudget < 0 {
		plan.RetryBudget = 0
	}
	if len(items) == 0 {
		return []bool{}, nil
	}

	if plan.Limit > 0 && len(items) > plan.Limit {
		return applyChunked(ctx, plan, items)
	}
	return applyRounds(ctx, plan, items)
}

func applyChunked[T any](ctx context.Context, plan Plan[T], items []T) ([]bool, error) {
	g := fanout.NewGroup[[]bool](0)
	for start := 0; start < len(items); start += plan.Limit {
		chunk := items[start:min(start+plan.Limit, len(items))]
		g.Add(func(ctx context.Context) ([]bool, error) {
			return applyRounds(ctx, plan, chunk)
		})
	}

	chunks, err := g.RunAll(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]bool, 0, len(items))
	for _, c := range chunks {
		results = append(results, c...)
	}
	return results, nil
}

func applyRounds[T any](ctx context.Context, plan Plan[T], items []T) ([]bool, error) {
	working := items
	failed := make(map[string]struct{})

	for round := 0; round <= plan.RetryBudget && len(working) > 0; round++ {
		plan.Logger.Debug("applying batch round",
			"round", round,
			"items", len(working))

		outcome, err := plan.Attempt(ctx, working)
		if err != nil {
			plan.Metrics.ObserveBatchRound(metrics.OutcomeFailed)
			return nil, fmt.Errorf("batch round %d: %w", round, err)
		}

		if outcome.Kind == Duplicate {
			outcome, working, err = resolveDuplicates(ctx, plan, working, outcome.IDs)
			if err != nil {
				plan.Metrics.ObserveBatchRound(metrics.OutcomeFailed)
				return nil, fmt.Errorf("batch round %d: %w", round, err)
			}
		}

		switch outcome.Kind {
		case Fatal:
			plan.Metrics.ObserveBatchRound(metrics.OutcomeFailed)
			return nil, fmt.Errorf("%w: %s", ErrFatal, outcome.Message)
		case Failed:
			if len(outcome.IDs) == 0 {
				plan.Metrics.ObserveBatchRound(metrics.OutcomeSucceeded)
				return flags(plan, items, failed), nil
			}
			plan.Logger.Warn("batch round reported failures",
				"round", round,
				"failed_ids", outcome.IDs)
			plan.Metrics.ObserveBatchRound(metrics.OutcomePartial)
			rejected := toSet(outcome.IDs)
			for id := range rejected {
				failed[id] = struct{}{}
			}
			working = without(plan, working, rejected)
		default:
			plan.Metrics.ObserveBatchRound(metrics.OutcomeSucceeded)
			return flags(plan, items, failed), nil
		}
	}

	return flags(plan, items, failed), nil
}

// resolveDuplicates drops duplicate ids from the working set. With an
// OnDuplicate attempt the remainder is sent through it; without one the
// duplicates are reported as failures.
func resolveDuplicates[T any](ctx context.Context, plan Plan[T], working []T, ids []string) (Outcome, []T, error) {
	duplicates := toSet(ids)
	plan.Logger.Debug("batch round reported duplicates", "duplicate_ids", ids)

	if plan.OnDuplicate == nil {
		return FailedOf(ids...), working, nil
	}

	remainder := without(plan, working, duplicates)
	if len(remainder) == 0 {
		return Succeeded(), remainder, nil
	}

	outcome, err := plan.OnDuplicate(ctx, remainder)
	if err != nil {
		return Outcome{}, nil, err
	}
	if outcome.Kind == Duplicate {
		// The fallback cannot resolve duplicates itself.
		outcome = FailedOf(outcome.IDs...)
	}
	return outcome, remainder, nil
}

func flags[T any](plan Plan[T], items []T, failed map[string]struct{}) []bool {
	result := make([]bool, len(items))
	for i, item := range items {
		_, bad := failed[plan.ID(item)]
		result[i] = !bad
	}
	return result
}

func without[T any](plan Plan[T], items []T, ids map[string]struct{}) []T {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if _, drop := ids[plan.ID(item)]; !drop {
			kept = append(kept, item)
		}
	}
	return kept
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

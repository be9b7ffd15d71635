package settlement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

const (
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
)

// ItemResult is the outcome of one unit of a batch command.
type ItemResult struct {
	ID      uuid.UUID      `json:"id"`
	Status  string         `json:"status"`
	Code    pkgerrors.Code `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
}

// BatchResult reports every unit of a batch. A failed unit never rolls back
// the others.
type BatchResult struct {
	Items     []ItemResult `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Summary   string       `json:"summary"`
}

// runBatch applies fn to each distinct id with at most workers in flight.
// Units on different ids run concurrently; the same id is never run twice.
func runBatch(ctx context.Context, ids []uuid.UUID, workers int, verb string, fn func(ctx context.Context, id uuid.UUID) error) *BatchResult {
	unique := dedupe(ids)
	items := make([]ItemResult, len(unique))
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range unique {
		i, id := i, id
		g.Go(func() error {
			item := ItemResult{ID: id, Status: ItemSucceeded}
			if err := gctx.Err(); err != nil {
				item.Status = ItemFailed
				item.Code = pkgerrors.CodeDependency
				item.Message = err.Error()
			} else if err := fn(gctx, id); err != nil {
				item.Status = ItemFailed
				item.Code = pkgerrors.CodeInternal
				item.Message = err.Error()
				if typed := pkgerrors.As(err); typed != nil {
					item.Code = typed.Code()
					item.Message = typed.Message()
				}
			}
			items[i] = item
			// unit errors are reported per item, never to the group
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{Items: items}
	for _, item := range items {
		if item.Status == ItemSucceeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	result.Summary = summarize(result, verb)
	return result
}

// summarize renders e.g. "3 released, 1 failed: insufficient balance".
func summarize(r *BatchResult, verb string) string {
	head := fmt.Sprintf("%d %s", r.Succeeded, verb)
	if r.Failed == 0 {
		return head
	}
	counts := map[string]int{}
	for _, item := range r.Items {
		if item.Status == ItemFailed {
			counts[reasonLabel(item.Code)]++
		}
	}
	reasons := make([]string, 0, len(counts))
	for reason, n := range counts {
		if len(counts) == 1 {
			reasons = append(reasons, reason)
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s (%d)", reason, n))
	}
	sort.Strings(reasons)
	return fmt.Sprintf("%s, %d failed: %s", head, r.Failed, strings.Join(reasons, ", "))
}

func reasonLabel(code pkgerrors.Code) string {
	if code == "" {
		return "unknown error"
	}
	return strings.ReplaceAll(strings.ToLower(string(code)), "_", " ")
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

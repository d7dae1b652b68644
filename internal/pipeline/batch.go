package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ItemResult is the outcome for one lead of a bulk action.
type ItemResult struct {
	LeadID string
	Err    error
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool {
	return r.Err == nil
}

// BatchResult holds one ItemResult per requested lead, in request order.
type BatchResult struct {
	Items []ItemResult
}

// OK is true only when every item succeeded. An empty batch is OK.
func (b BatchResult) OK() bool {
	for _, item := range b.Items {
		if item.Err != nil {
			return false
		}
	}
	return true
}

// Succeeded lists the ids that went through.
func (b BatchResult) Succeeded() []string {
	ids := make([]string, 0, len(b.Items))
	for _, item := range b.Items {
		if item.Err == nil {
			ids = append(ids, item.LeadID)
		}
	}
	return ids
}

// Failed lists the items that did not.
func (b BatchResult) Failed() []ItemResult {
	failed := make([]ItemResult, 0)
	for _, item := range b.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// UniqueIDs drops blanks and repeats while keeping first-seen order.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// RunBatch calls fn once per unique id with at most limit calls in flight and waits for all
// of them. A failing item never cancels its siblings.
func RunBatch(ctx context.Context, ids []string, limit int, fn func(context.Context, string) error) BatchResult {
	ids = UniqueIDs(ids)
	items := make([]ItemResult, len(ids))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			items[i] = ItemResult{LeadID: id, Err: fn(ctx, id)}
			return nil
		})
	}
	_ = g.Wait()

	return BatchResult{Items: items}
}

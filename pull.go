package stacks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// PullSummary aggregates what a pull pass applied.
type PullSummary struct {
	Applied   int
	Deleted   int
	Conflicts int
	Preserved int
	Pages     int
}

func (s *PullSummary) add(o PullSummary) {
	s.Applied += o.Applied
	s.Deleted += o.Deleted
	s.Conflicts += o.Conflicts
	s.Preserved += o.Preserved
	s.Pages += o.Pages
}

// puller drives paginated delta pulls for every collection and applies the
// results through the conflict detector.
type puller struct {
	store    Replica
	api      CatalogAPI
	gate     *syncGate
	pageSize int
	debug    *DebugLogger
}

// pull fetches and applies deltas for all collections, fanning out one
// goroutine per collection. Each collection's pagination is strictly ordered
// within itself; collections have no ordering guarantee between them.
//
// The checkpoint for a collection is stored only after its pagination
// completes. A transient failure mid-pagination propagates to the caller's
// retry policy, and a retry restarts that collection from the last stored
// checkpoint, not the in-flight cursor.
func (p *puller) pull(ctx context.Context, onProgress func(SyncStatus)) (*PullSummary, error) {
	var (
		mu    sync.Mutex
		total PullSummary
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, col := range Collections() {
		col := col
		g.Go(func() error {
			summary, err := p.pullCollection(ctx, col, onProgress)
			if err != nil {
				return fmt.Errorf("pull %s: %w", col, err)
			}
			mu.Lock()
			total.add(*summary)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &total, nil
}

func (p *puller) pullCollection(ctx context.Context, col Collection, onProgress func(SyncStatus)) (*PullSummary, error) {
	checkpoint, err := p.store.Checkpoint(col)
	if err != nil {
		return nil, err
	}

	var (
		summary PullSummary
		cursor  string
		asOf    string
		applied int
	)

	for {
		page, err := p.api.FetchPage(ctx, col, PageRequest{
			Limit:        p.pageSize,
			Cursor:       cursor,
			UpdatedAfter: checkpoint,
		})
		if err != nil {
			return nil, err
		}

		// Apply under the gate; network fetch above runs unguarded.
		if err := p.gate.Acquire(ctx); err != nil {
			return nil, err
		}
		pageSummary, err := p.applyPage(col, page)
		p.gate.Release()
		if err != nil {
			return nil, err
		}

		summary.add(*pageSummary)
		summary.Pages++
		applied += len(page.Records) + len(page.DeletedIDs)

		if onProgress != nil {
			onProgress(StatusProgress{
				Phase:      PhasePull,
				Collection: col,
				Current:    applied,
				Total:      page.Total,
			})
		}

		asOf = page.AsOf
		cursor = page.NextCursor
		if !page.HasMore {
			break
		}
	}

	if asOf != "" {
		if err := p.store.SetCheckpoint(col, asOf); err != nil {
			return nil, err
		}
	}

	p.debug.LogSync("pull", fmt.Sprintf("%s: %d applied, %d deleted, %d conflicts, %d preserved",
		col, summary.Applied, summary.Deleted, summary.Conflicts, summary.Preserved))

	return &summary, nil
}

// applyPage applies one delta page. Caller holds the sync gate.
func (p *puller) applyPage(col Collection, page *DeltaPage) (*PullSummary, error) {
	var summary PullSummary
	now := time.Now().UTC()

	for _, rec := range page.Records {
		rec.Collection = col
		res, err := applyServerRecord(p.store, rec, now)
		if err != nil {
			return nil, err
		}
		switch res {
		case resolutionUpsert:
			summary.Applied++
		case resolutionConflict:
			summary.Conflicts++
		case resolutionPreserveLocal:
			summary.Preserved++
		}
	}

	// Server deletions are authoritative regardless of local sync state.
	if len(page.DeletedIDs) > 0 {
		if err := p.store.DeleteEntities(col, page.DeletedIDs); err != nil {
			return nil, err
		}
		summary.Deleted += len(page.DeletedIDs)
	}

	return &summary, nil
}

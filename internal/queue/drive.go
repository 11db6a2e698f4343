package queue

import (
	"context"
	"fmt"
	"path"

	"wbh-go/internal/crypto"
	"wbh-go/internal/wbh"
)

// Result summarizes one Drive pass.
type Result struct {
	// Idle is true when no item changed state and no chunk was confirmed.
	Idle bool
	// Finished counts items that reached Done during the pass.
	Finished int
}

// Drive runs every queued item as far as it can go. One item's failure is
// logged and never stops its siblings; the item keeps its state so the
// next pass retries from the same point.
func (q *Queue) Drive(ctx context.Context) Result {
	q.progress, q.finished = 0, 0
	for _, id := range append([]string{}, q.roots...) {
		if ctx.Err() != nil {
			break
		}
		item := q.items[id]
		if item == nil {
			continue
		}
		if err := q.drive(ctx, item); err != nil {
			q.logFailure(item, err)
		}
	}
	return Result{Idle: q.progress == 0, Finished: q.finished}
}

func (q *Queue) logFailure(item *wbh.WatchItem, err error) {
	q.logger.Error("item failed",
		"blackhole", q.hole.Name,
		"item", item.Key(),
		"state", item.State.String(),
		"retryable", wbh.IsRetryable(err),
		"error", err)
}

func (q *Queue) drive(ctx context.Context, item *wbh.WatchItem) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		before := item.State
		var err error
		switch nextAction(item.IsDir, item.State, item.ParentLocalID == "") {
		case actCatalog:
			err = q.catalogItem(ctx, item)
		case actUpload:
			err = q.upload(ctx, item)
		case actDescend:
			err = q.descend(ctx, item)
		case actRemoveSource:
			err = q.removeSource(item)
		case actForget:
			q.progress++
			q.logger.Info("item finished", "blackhole", q.hole.Name, "item", item.Key())
			return q.Remove(item.LocalID)
		default:
			return nil
		}
		if err != nil {
			return err
		}
		if item.State == before {
			return nil
		}
	}
}

// blackholeID resolves the hole's catalog id on first use.
func (q *Queue) blackholeID(ctx context.Context) (int64, error) {
	if q.hole.ID != 0 {
		return q.hole.ID, nil
	}
	id, err := q.catalog.GetOrCreateBlackHole(ctx, q.hole.Name, q.hole.Destination)
	if err != nil {
		return 0, err
	}
	q.hole.ID = id
	return id, nil
}

// catalogItem writes an uncataloged item to the catalog, a directory
// together with its whole subtree, then moves it on: files to Uploading,
// directories to Done.
func (q *Queue) catalogItem(ctx context.Context, item *wbh.WatchItem) error {
	if item.CatalogID == 0 {
		var parentID int64
		if item.ParentLocalID != "" {
			parent := q.items[item.ParentLocalID]
			if parent == nil || parent.CatalogID == 0 {
				return fmt.Errorf("%w: parent of %s is not cataloged", wbh.ErrCatalog, item.Key())
			}
			parentID = parent.CatalogID
		}
		if err := q.checksum(item); err != nil {
			return err
		}
		bhID, err := q.blackholeID(ctx)
		if err != nil {
			return err
		}
		ids, err := q.catalog.AddItem(ctx, bhID, parentID, q.subtree(item))
		if err != nil {
			return err
		}
		for localID, id := range ids {
			if it := q.items[localID]; it != nil {
				it.CatalogID = id
			}
		}
		q.logger.Info("item cataloged", "blackhole", q.hole.Name, "item", item.Key(), "catalog_id", item.CatalogID, "items", len(ids))
	}

	if item.IsDir {
		if err := q.advance(item, wbh.StateDone); err != nil {
			return err
		}
		q.finished++
		return nil
	}
	return q.advance(item, wbh.StateUploading)
}

// checksum fills in the checksum of item and every descendant from a
// single read of the files.
func (q *Queue) checksum(item *wbh.WatchItem) error {
	if item.Checksum != "" {
		return nil
	}
	sums, err := crypto.TreeChecksums(q.pathOf(item))
	if err != nil {
		return fmt.Errorf("checksumming %s: %w", item.Key(), err)
	}
	var assign func(it *wbh.WatchItem, rel string)
	assign = func(it *wbh.WatchItem, rel string) {
		if sum, ok := sums[rel]; ok {
			it.Checksum = sum
			it.ChecksumType = wbh.ChecksumSHA256
		}
		for _, id := range it.Children {
			child := q.items[id]
			assign(child, path.Join(rel, child.Name))
		}
	}
	assign(item, ".")
	return nil
}

// upload sends the file's remaining chunks, recording each one in the
// catalog and the queue document as soon as the transport confirms it.
func (q *Queue) upload(ctx context.Context, item *wbh.WatchItem) error {
	bhID, err := q.blackholeID(ctx)
	if err != nil {
		return err
	}
	err = q.sender.Send(ctx, q.hole, item, q.pathOf(item), func(ch *wbh.Chunk) error {
		id, err := q.catalog.AddChunk(ctx, bhID, item.CatalogID, ch)
		if err != nil {
			return err
		}
		ch.CatalogID = id
		ch.State = wbh.StateDone
		item.Chunks = append(item.Chunks, ch)
		if err := q.Save(); err != nil {
			item.Chunks = item.Chunks[:len(item.Chunks)-1]
			return err
		}
		q.progress++
		q.logger.Info("chunk uploaded",
			"blackhole", q.hole.Name,
			"item", item.Key(),
			"chunk", ch.Index,
			"uploaded", item.UploadedBytes(),
			"size", item.Size)
		return nil
	})
	if err != nil {
		return err
	}
	if err := q.finalize(ctx, bhID, item); err != nil {
		return err
	}
	if err := q.advance(item, wbh.StateDone); err != nil {
		return err
	}
	q.finished++
	return nil
}

// finalize records the final chunk count and grows the hole's total size.
// The catalog only counts the size while the item has no upload time, so
// a retry after a crash does not count the file twice.
func (q *Queue) finalize(ctx context.Context, bhID int64, item *wbh.WatchItem) error {
	if err := q.catalog.FinalizeItem(ctx, bhID, item.CatalogID, len(item.Chunks), item.Size); err != nil {
		return fmt.Errorf("finalizing %s: %w", item.Key(), err)
	}
	return nil
}

func (q *Queue) removeSource(item *wbh.WatchItem) error {
	if err := q.fs.Remove(q.pathOf(item)); err != nil {
		return err
	}
	return q.advance(item, wbh.StateDeleted)
}

// descend drives a finished directory's children and removes the
// directory once every child is Deleted. Entries the tree walk skipped,
// such as symlinks, go with it.
func (q *Queue) descend(ctx context.Context, item *wbh.WatchItem) error {
	allDeleted := true
	for _, id := range append([]string{}, item.Children...) {
		child := q.items[id]
		if child == nil {
			continue
		}
		if err := q.drive(ctx, child); err != nil {
			q.logFailure(child, err)
		}
		if child.State != wbh.StateDeleted {
			allDeleted = false
		}
	}
	if !allDeleted {
		return nil
	}
	if err := q.fs.RemoveAll(q.pathOf(item)); err != nil {
		return err
	}
	return q.advance(item, wbh.StateDeleted)
}

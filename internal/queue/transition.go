package queue

import (
	"fmt"

	"wbh-go/internal/wbh"
)

// action is what the driver does next for an item.
type action int

const (
	actNone action = iota
	// actCatalog writes the item (and a directory's subtree) to the catalog.
	actCatalog
	// actUpload hands a file to the transfer engine.
	actUpload
	// actDescend drives a directory's children.
	actDescend
	// actRemoveSource deletes a finished file from the queue directory.
	actRemoveSource
	// actForget drops a finished root item from the queue.
	actForget
)

func (a action) String() string {
	switch a {
	case actCatalog:
		return "catalog"
	case actUpload:
		return "upload"
	case actDescend:
		return "descend"
	case actRemoveSource:
		return "remove-source"
	case actForget:
		return "forget"
	default:
		return "none"
	}
}

// nextAction maps an item's kind, state and position to the driver step.
// It is pure so every combination can be enumerated in tests.
func nextAction(isDir bool, state wbh.State, isRoot bool) action {
	switch state {
	case wbh.StateInQueue:
		return actCatalog
	case wbh.StateUploading:
		if isDir {
			return actNone
		}
		return actUpload
	case wbh.StateDone:
		if isDir {
			return actDescend
		}
		return actRemoveSource
	case wbh.StateDeleted:
		if isRoot {
			return actForget
		}
		return actNone
	default:
		return actNone
	}
}

// advance is the only place an item's state changes. Every change is
// persisted before advance returns, so a crash never loses a transition
// that later steps relied on.
func (q *Queue) advance(item *wbh.WatchItem, to wbh.State) error {
	from := item.State
	if !wbh.CanTransition(from, to) {
		return fmt.Errorf("item %s: illegal transition %s -> %s", item.Key(), from, to)
	}
	item.State = to
	if err := q.Save(); err != nil {
		item.State = from
		return err
	}
	q.progress++
	q.logger.Debug("item state changed", "blackhole", q.hole.Name, "item", item.Key(), "from", from.String(), "state", to.String())
	return nil
}

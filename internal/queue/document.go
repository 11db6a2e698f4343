package queue

import (
	"encoding/json"
	"fmt"

	"wbh-go/internal/wbh"
)

// docNode is the on-disk shape of one item: the item's own fields with its
// children nested inline. The document is a JSON array of root docNodes.
type docNode struct {
	*wbh.WatchItem
	Nested []docNode `json:"children,omitempty"`
}

// encode renders the arena as a nested document.
func (q *Queue) encode() ([]byte, error) {
	doc := make([]docNode, 0, len(q.roots))
	for _, id := range q.roots {
		doc = append(doc, q.docNode(id))
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encoding queue: %w", wbh.ErrSerialization, err)
	}
	return data, nil
}

func (q *Queue) docNode(id string) docNode {
	item := q.items[id]
	node := docNode{WatchItem: item}
	for _, childID := range item.Children {
		node.Nested = append(node.Nested, q.docNode(childID))
	}
	return node
}

// decode parses a document into a fresh arena.
func decode(data []byte) (map[string]*wbh.WatchItem, []string, error) {
	items := make(map[string]*wbh.WatchItem)
	var roots []string
	if len(data) == 0 {
		return items, roots, nil
	}

	var doc []docNode
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding queue: %w", wbh.ErrSerialization, err)
	}
	for i := range doc {
		id, err := flatten(&doc[i], "", items)
		if err != nil {
			return nil, nil, err
		}
		roots = append(roots, id)
	}
	return items, roots, nil
}

func flatten(node *docNode, parentID string, items map[string]*wbh.WatchItem) (string, error) {
	item := node.WatchItem
	if item == nil {
		return "", fmt.Errorf("%w: empty queue entry", wbh.ErrSerialization)
	}
	if item.LocalID == "" {
		return "", fmt.Errorf("%w: queue entry %s has no local id", wbh.ErrSerialization, item.Key())
	}
	if _, dup := items[item.LocalID]; dup {
		return "", fmt.Errorf("%w: duplicate local id %s", wbh.ErrSerialization, item.LocalID)
	}
	item.ParentLocalID = parentID
	item.Children = nil
	items[item.LocalID] = item

	for i := range node.Nested {
		childID, err := flatten(&node.Nested[i], item.LocalID, items)
		if err != nil {
			return "", err
		}
		item.Children = append(item.Children, childID)
	}
	if err := item.Validate(); err != nil {
		return "", err
	}
	return item.LocalID, nil
}

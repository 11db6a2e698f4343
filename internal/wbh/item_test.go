package wbh

import (
	"errors"
	"testing"
)

func TestWatchItem_SameEntry(t *testing.T) {
	a := &WatchItem{LocalID: "id-1", Name: "file.bin", PathSegments: []string{"photos"}}
	b := &WatchItem{LocalID: "id-2", Name: "file.bin", PathSegments: []string{"photos"}}
	c := &WatchItem{LocalID: "id-1", Name: "file.bin"}

	if !a.SameEntry(b) {
		t.Error("SameEntry() = false for same path and name with different local ids")
	}
	if a.SameEntry(c) {
		t.Error("SameEntry() = true for different path segments")
	}
	if a.SameEntry(nil) {
		t.Error("SameEntry(nil) = true")
	}
}

func TestWatchItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    *WatchItem
		wantErr bool
	}{
		{
			name: "file with contiguous chunks",
			item: &WatchItem{Name: "a", Chunks: []*Chunk{{Index: 0}, {Index: 1}}},
		},
		{
			name: "directory with children",
			item: &WatchItem{Name: "d", IsDir: true, Children: []string{"id-2"}},
		},
		{
			name:    "directory with chunks",
			item:    &WatchItem{Name: "d", IsDir: true, Chunks: []*Chunk{{Index: 0}}},
			wantErr: true,
		},
		{
			name:    "file with children",
			item:    &WatchItem{Name: "a", Children: []string{"id-2"}},
			wantErr: true,
		},
		{
			name:    "gap in chunk indices",
			item:    &WatchItem{Name: "a", Chunks: []*Chunk{{Index: 0}, {Index: 2}}},
			wantErr: true,
		},
		{
			name:    "missing name",
			item:    &WatchItem{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrSerialization) {
				t.Errorf("Validate() error = %v, want ErrSerialization", err)
			}
		})
	}
}

func TestItemNode_WalkParentFirst(t *testing.T) {
	root := &ItemNode{
		Item: &WatchItem{Name: "root", IsDir: true},
		Children: []*ItemNode{
			{Item: &WatchItem{Name: "a", IsDir: true}, Children: []*ItemNode{{Item: &WatchItem{Name: "a1"}}}},
			{Item: &WatchItem{Name: "b"}},
		},
	}

	var order []string
	err := root.Walk(func(n *ItemNode) error {
		order = append(order, n.Item.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []string{"root", "a", "a1", "b"}
	if len(order) != len(want) {
		t.Fatalf("Walk() visited %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestErrors_Kinds(t *testing.T) {
	err := &ChecksumMismatchError{Name: "chunk 3", Want: "aa", Got: "bb"}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Error("ChecksumMismatchError does not match ErrChecksumMismatch")
	}
	if IsRetryable(err) {
		t.Error("IsRetryable(checksum mismatch) = true, want false")
	}
	if !IsRetryable(errors.Join(ErrTransport, errors.New("timeout"))) {
		t.Error("IsRetryable(transport) = false, want true")
	}
	if IsRetryable(ErrAuthentication) {
		t.Error("IsRetryable(authentication) = true, want false")
	}
}

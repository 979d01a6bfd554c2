package node

import "testing"

func entries() []StoredEntry {
	return []StoredEntry{
		{URI: "mutable://open/users/alice", TS: 10},
		{URI: "mutable://open/users/bob", TS: 20},
		{URI: "mutable://open/users/carol/profile", TS: 30},
		{URI: "mutable://open/users/carol/settings", TS: 5},
		{URI: "mutable://open/other", TS: 99},
	}
}

func TestCollapseChildren(t *testing.T) {
	res := Collapse("mutable://open/users", entries(), ListOptions{})
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3: %+v", len(res.Items), res.Items)
	}
	// Default sort is by name ascending.
	want := []struct {
		uri  string
		kind ItemKind
	}{
		{"mutable://open/users/alice", KindLeaf},
		{"mutable://open/users/bob", KindLeaf},
		{"mutable://open/users/carol", KindDirectory},
	}
	for i, w := range want {
		if res.Items[i].URI != w.uri || res.Items[i].Kind != w.kind {
			t.Errorf("item %d = %+v, want %s %s", i, res.Items[i], w.uri, w.kind)
		}
	}
	if res.Page.Total != 3 || res.Page.Page != 1 || res.Page.Limit != DefaultListLimit {
		t.Errorf("page = %+v", res.Page)
	}
}

func TestCollapseSortByTS(t *testing.T) {
	// carol's directory ts is the max of its descendants (30).
	res := Collapse("mutable://open/users", entries(), ListOptions{SortBy: "ts", SortOrder: "desc"})
	if res.Items[0].URI != "mutable://open/users/carol" {
		t.Errorf("first by ts desc = %s, want carol", res.Items[0].URI)
	}
	if res.Items[2].URI != "mutable://open/users/alice" {
		t.Errorf("last by ts desc = %s, want alice", res.Items[2].URI)
	}
}

func TestCollapsePattern(t *testing.T) {
	res := Collapse("mutable://open/users", entries(), ListOptions{Pattern: "bob"})
	if len(res.Items) != 1 || res.Items[0].URI != "mutable://open/users/bob" {
		t.Errorf("pattern filter: %+v", res.Items)
	}
}

func TestCollapsePagination(t *testing.T) {
	res := Collapse("mutable://open/users", entries(), ListOptions{Page: 2, Limit: 2})
	if len(res.Items) != 1 {
		t.Fatalf("page 2 items = %d, want 1", len(res.Items))
	}
	if res.Items[0].URI != "mutable://open/users/carol" {
		t.Errorf("page 2 item = %s", res.Items[0].URI)
	}
	if res.Page.Total != 3 {
		t.Errorf("total = %d, want 3", res.Page.Total)
	}
	// A page past the end is empty, not an error.
	res = Collapse("mutable://open/users", entries(), ListOptions{Page: 9, Limit: 2})
	if len(res.Items) != 0 {
		t.Errorf("past-end page items = %d, want 0", len(res.Items))
	}
}

func TestCollapseEmptyPrefix(t *testing.T) {
	res := Collapse("mutable://open/nothing", entries(), ListOptions{})
	if len(res.Items) != 0 || res.Page.Total != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

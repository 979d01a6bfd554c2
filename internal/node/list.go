package node

import (
	"sort"
	"strings"
)

// DefaultListLimit applies when ListOptions.Limit is zero.
const DefaultListLimit = 100

// StoredEntry is the raw (uri, ts) pair a backend feeds into Collapse.
type StoredEntry struct {
	URI string
	TS  int64
}

// Collapse reduces the stored URIs under prefix to their immediate child
// segments, tags each child leaf or directory, then filters, sorts and
// paginates per opts. A child is a directory when at least one stored URI
// extends it past a "/" boundary; directories sort by the newest ts among
// their descendants. Every backend shares this so list semantics cannot
// drift between stores.
func Collapse(prefix string, stored []StoredEntry, opts ListOptions) ListResult {
	type child struct {
		uri string
		dir bool
		ts  int64
	}
	children := map[string]*child{}
	base := prefix + "/"
	for _, e := range stored {
		if !strings.HasPrefix(e.URI, base) {
			continue
		}
		rest := e.URI[len(base):]
		if rest == "" {
			continue
		}
		seg, extra, nested := strings.Cut(rest, "/")
		uri := base + seg
		c, ok := children[uri]
		if !ok {
			c = &child{uri: uri}
			children[uri] = c
		}
		if nested && extra != "" {
			c.dir = true
		}
		if e.TS > c.ts {
			c.ts = e.TS
		}
	}

	var all []*child
	for _, c := range children {
		if opts.Pattern != "" && !strings.Contains(c.uri, opts.Pattern) {
			continue
		}
		all = append(all, c)
	}

	desc := opts.SortOrder == "desc"
	byTS := opts.SortBy == "ts"
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if byTS && a.ts != b.ts {
			if desc {
				return a.ts > b.ts
			}
			return a.ts < b.ts
		}
		if a.uri != b.uri {
			if desc && !byTS {
				return a.uri > b.uri
			}
			return a.uri < b.uri
		}
		return false
	})

	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	total := len(all)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	items := make([]ListItem, 0, end-start)
	for _, c := range all[start:end] {
		kind := KindLeaf
		if c.dir {
			kind = KindDirectory
		}
		items = append(items, ListItem{URI: c.uri, Kind: kind})
	}
	return ListResult{
		Items: items,
		Page:  PageInfo{Page: page, Limit: limit, Total: total},
	}
}

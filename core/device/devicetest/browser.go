package devicetest

import (
	"context"
	"sync"

	"DeckPilot/model"
)

// Row identifies a visible browser row. Child is -1 for rows of the root list.
type Row struct {
	Root  int
	Child int
}

// Browser models the hierarchical media browser of the mixing application:
// a root list where some rows are folders. Expanding a folder inserts its
// children right below it and leaves the cursor on the folder itself.
type Browser struct {
	mu       sync.Mutex
	rootLen  int
	folders  map[int]int // root position -> child count
	expanded []int       // expanded folders, most recent last
	cursor   int

	// AutoExpand expands a folder as soon as the cursor steps onto it, the
	// side effect that silently shifts every later offset.
	AutoExpand bool
}

// NewBrowser builds a root list of rootLen rows; folders maps root
// positions to their child counts.
func NewBrowser(rootLen int, folders map[int]int) *Browser {
	f := make(map[int]int, len(folders))
	for k, v := range folders {
		f[k] = v
	}
	return &Browser{rootLen: rootLen, folders: f}
}

func (b *Browser) rows() []Row {
	rows := make([]Row, 0, b.rootLen)
	for i := 0; i < b.rootLen; i++ {
		rows = append(rows, Row{Root: i, Child: -1})
		if b.isExpanded(i) {
			for j := 0; j < b.folders[i]; j++ {
				rows = append(rows, Row{Root: i, Child: j})
			}
		}
	}
	return rows
}

func (b *Browser) isExpanded(root int) bool {
	for _, e := range b.expanded {
		if e == root {
			return true
		}
	}
	return false
}

func (b *Browser) expandAt(row Row) {
	if row.Child != -1 {
		return
	}
	if _, isFolder := b.folders[row.Root]; !isFolder || b.isExpanded(row.Root) {
		return
	}
	b.expanded = append(b.expanded, row.Root)
}

func (b *Browser) Up() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor > 0 {
		b.cursor--
	}
}

func (b *Browser) Down() {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.rows()
	if b.cursor < len(rows)-1 {
		b.cursor++
	}
	if b.AutoExpand {
		b.expandAt(rows[b.cursor])
	}
}

func (b *Browser) Expand() {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.rows()
	if len(rows) == 0 {
		return
	}
	b.expandAt(rows[b.cursor])
}

// Collapse closes the most recently expanded folder, keeping the cursor on
// the same row when it survives, else on the folder row.
func (b *Browser) Collapse() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.expanded) == 0 {
		return
	}
	rows := b.rows()
	cur := rows[b.cursor]
	b.expanded = b.expanded[:len(b.expanded)-1]
	if cur.Child != -1 && !b.isExpanded(cur.Root) {
		cur = Row{Root: cur.Root, Child: -1}
	}
	for i, r := range b.rows() {
		if r == cur {
			b.cursor = i
			return
		}
	}
}

// Current returns the row under the cursor.
func (b *Browser) Current() Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows()[b.cursor]
}

// Cursor returns the visible index of the cursor.
func (b *Browser) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// ExpandedCount returns the number of open folders.
func (b *Browser) ExpandedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.expanded)
}

// Verify checks the navigation: the cursor must sit on root row want of a
// fully collapsed list.
func (b *Browser) Verify(_ context.Context, want int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.expanded) == 0 && b.cursor == want, nil
}

// VerifyLocation checks any row: root rows as Verify does, rows inside a
// folder by requiring that folder to be the only one open.
func (b *Browser) VerifyLocation(ctx context.Context, loc model.BrowserLocation) (bool, error) {
	if loc.Folder == nil {
		return b.Verify(ctx, loc.Index)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.expanded) != 1 || b.expanded[0] != *loc.Folder {
		return false, nil
	}
	return b.rows()[b.cursor] == Row{Root: *loc.Folder, Child: loc.Index}, nil
}

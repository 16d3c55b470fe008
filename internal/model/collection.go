package model

import "sort"

// Collection はStartedAt降順（新しい順）に並んだハイクの一覧。
// 同じIDのエントリは2件以上存在しない。
type Collection []Hike

// NormalizeCollection は一覧をStartedAt降順に並べ、重複IDを除去する。
// 重複がある場合は先に現れたエントリを残す。
func NormalizeCollection(hikes []Hike) Collection {
	seen := make(map[string]struct{}, len(hikes))
	out := make(Collection, 0, len(hikes))
	for _, h := range hikes {
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		out = append(out, h)
	}
	out.SortNewestFirst()
	return out
}

// SortNewestFirst はStartedAt降順に安定ソートする。
func (c Collection) SortNewestFirst() {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].StartedAt.After(c[j].StartedAt)
	})
}

// Clone は各ハイクをディープコピーした一覧を返す。
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for i, h := range c {
		out[i] = h.Clone()
	}
	return out
}

// Find は指定IDのハイクを返す。
func (c Collection) Find(id string) (Hike, bool) {
	for _, h := range c {
		if h.ID == id {
			return h, true
		}
	}
	return Hike{}, false
}

// InsertAtFront はハイクを先頭に追加した一覧を返す。
// 同じIDの既存エントリは取り除く。
func (c Collection) InsertAtFront(h Hike) Collection {
	out := make(Collection, 0, len(c)+1)
	out = append(out, h)
	for _, existing := range c {
		if existing.ID != h.ID {
			out = append(out, existing)
		}
	}
	return out
}

// InsertSorted はStartedAt降順を保つ位置にハイクを挿入した一覧を返す。
// GPXインポートなど、過去のハイクを追加する場合に使う。
func (c Collection) InsertSorted(h Hike) Collection {
	out := make(Collection, 0, len(c)+1)
	inserted := false
	for _, existing := range c {
		if existing.ID == h.ID {
			continue
		}
		if !inserted && h.StartedAt.After(existing.StartedAt) {
			out = append(out, h)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, h)
	}
	return out
}

// UpdateNotes は指定IDのハイクのメモを更新する。
// IDが存在しない場合は何もせずfalseを返す。
func (c Collection) UpdateNotes(id, notes string) bool {
	for i := range c {
		if c[i].ID == id {
			c[i].Notes = notes
			return true
		}
	}
	return false
}

// RemoveByID は指定IDのハイクを除いた一覧を返す。
// IDが存在しない場合は元の一覧とfalseを返す。
func (c Collection) RemoveByID(id string) (Collection, bool) {
	for i := range c {
		if c[i].ID == id {
			out := make(Collection, 0, len(c)-1)
			out = append(out, c[:i]...)
			out = append(out, c[i+1:]...)
			return out, true
		}
	}
	return c, false
}

package queue

import (
	"strconv"
	"strings"
	"sync"
)

// Queue is the Coordinator's single outer-locked in-memory model: an
// ordered sequence of NzbInfo plus a parallel History of terminal
// NzbInfo/DupInfo (spec 3). All mutation happens under mu; the Coordinator
// is the Queue's sole owner.
type Queue struct {
	mu      sync.Mutex
	nzbs    []*NzbInfo
	history []HistoryEntry
}

// HistoryEntry is either a terminal NzbInfo or a slim DupInfo, matching
// spec 3's "History -- parallel ordered sequence of terminal
// NzbInfo/DupInfo".
type HistoryEntry struct {
	Nzb *NzbInfo
	Dup *DupInfo
}

func New() *Queue {
	return &Queue{}
}

// Lock/Unlock expose the outer lock directly for callers (the Coordinator)
// that need to perform several reads/mutations as one atomic step, matching
// the reference implementation's explicit DownloadQueue::Lock()/Unlock()
// pattern referenced throughout spec 4.7.
func (q *Queue) Lock()   { q.mu.Lock() }
func (q *Queue) Unlock() { q.mu.Unlock() }

// AddNzb performs internal dedup (spec 4.7): within the new NZB's file
// list, same-filename files keep the biggest and drop the rest. The NZB is
// then added to the queue head or tail.
func (q *Queue) AddNzb(n *NzbInfo, addFirst bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n.Files = DedupFiles(n.Files)

	if addFirst {
		q.nzbs = append([]*NzbInfo{n}, q.nzbs...)
	} else {
		q.nzbs = append(q.nzbs, n)
	}
}

// All returns a snapshot slice of the queued NzbInfo pointers (not copies:
// callers must still go through the Queue lock to mutate fields safely).
func (q *Queue) All() []*NzbInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*NzbInfo, len(q.nzbs))
	copy(out, q.nzbs)
	return out
}

// AllLocked returns a snapshot slice of the queued NzbInfo pointers without
// taking the lock itself: callers that already hold it via Lock() (e.g. the
// Coordinator handing the queue to the Scheduler for the duration of
// Next()) use this instead of All() to avoid relocking the same mutex.
func (q *Queue) AllLocked() []*NzbInfo {
	out := make([]*NzbInfo, len(q.nzbs))
	copy(out, q.nzbs)
	return out
}

func (q *Queue) Find(id string) *NzbInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, n := range q.nzbs {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// RemoveToHistory moves an NzbInfo out of the active queue into history.
// Per spec 8 ("after edit(delete,nzb) completes and the active-downloads
// counter reaches 0, the NzbInfo is absent from the queue or present only
// in history"), callers must have already drained active downloads for
// every file before calling this.
func (q *Queue) RemoveToHistory(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, n := range q.nzbs {
		if n.ID == id {
			q.nzbs = append(q.nzbs[:i], q.nzbs[i+1:]...)
			q.history = append(q.history, HistoryEntry{Nzb: n})
			return true
		}
	}
	return false
}

// PurgeToDupInfo removes an NzbInfo from history, replacing it with a slim
// DupInfo that preserves dedup identity (spec 3).
func (q *Queue) PurgeToDupInfo(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, h := range q.history {
		if h.Nzb != nil && h.Nzb.ID == id {
			q.history[i] = HistoryEntry{Dup: &DupInfo{
				ID: h.Nzb.ID, Filename: h.Nzb.Filename,
				DupeKey: h.Nzb.DupeKey, DupeScore: h.Nzb.DupeScore,
				Status: TextStatus(h.Nzb, false),
			}}
			return true
		}
	}
	return false
}

// RestoreHistory replaces the in-memory history wholesale, used once at
// startup to repopulate the Queue from Disk State before any Coordinator
// goroutine is running.
func (q *Queue) RestoreHistory(entries []HistoryEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history = entries
}

func (q *Queue) History() []HistoryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]HistoryEntry, len(q.history))
	copy(out, q.history)
	return out
}

// EditAction is the queue editor's action enum (spec 4.7).
type EditAction int

const (
	ActionMove EditAction = iota
	ActionPause
	ActionResume
	ActionMerge
	ActionSplit
	ActionReprioritize
	ActionRename
	ActionSetCategory
	ActionSetParameter
	ActionGroupPause
	ActionGroupDelete
)

// Edit dispatches one queue-editor action under the outer lock. Each
// action's semantics are local mutations followed (by the caller) with
// event emission and a save -- Edit itself only performs the mutation, per
// spec 4.7 ("local mutations to the queue under the same lock followed by
// event emission and save").
func (q *Queue) Edit(id string, action EditAction, param string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.findLocked(id)
	if n == nil {
		return false
	}

	switch action {
	case ActionPause, ActionGroupPause:
		for _, f := range n.Files {
			f.Paused = true
		}
	case ActionResume:
		for _, f := range n.Files {
			f.Paused = false
		}
	case ActionSetCategory:
		n.Category = param
	case ActionRename:
		n.DisplayName = param
	case ActionGroupDelete:
		n.DeleteStatus = DeleteManual
	case ActionReprioritize:
		prio, err := strconv.Atoi(param)
		if err != nil {
			return false
		}
		n.Priority = prio
	case ActionSetParameter:
		key, value, found := strings.Cut(param, "=")
		if !found {
			return false
		}
		if n.Parameters == nil {
			n.Parameters = make(map[string]string)
		}
		n.Parameters[key] = value
	case ActionMove:
		offset, err := strconv.Atoi(param)
		if err != nil {
			return false
		}
		return q.moveLocked(id, offset)
	case ActionMerge, ActionSplit:
		// Merge and split operate on more than one NzbInfo at a time and
		// don't fit the single id/param shape; callers use MergeNzbs /
		// SplitNzb directly.
		return false
	}
	return true
}

// moveLocked repositions the NzbInfo identified by id by offset slots
// (negative moves it earlier/toward the front, positive later), matching
// the reference queue editor's MoveUp/MoveDown/MoveTop/MoveBottom actions
// collapsed into a single signed offset (spec 4.7). to is computed and
// clamped against the length of the post-removal slice, not the original
// one, so a large positive offset still lands the element on the very last
// slot instead of coming up one short.
func (q *Queue) moveLocked(id string, offset int) bool {
	from := -1
	for i, n := range q.nzbs {
		if n.ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return false
	}

	n := q.nzbs[from]
	rest := append(q.nzbs[:from:from], q.nzbs[from+1:]...)

	to := from + offset
	if to < 0 {
		to = 0
	}
	if to > len(rest) {
		to = len(rest)
	}

	merged := make([]*NzbInfo, 0, len(rest)+1)
	merged = append(merged, rest[:to]...)
	merged = append(merged, n)
	merged = append(merged, rest[to:]...)
	q.nzbs = merged
	return true
}

// MergeNzbs appends every file from the NzbInfo identified by sourceID onto
// the one identified by destID, re-running the dedup rule across the
// combined file list, then removes the source from the queue (spec 4.7
// edit(merge)).
func (q *Queue) MergeNzbs(destID, sourceID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dest := q.findLocked(destID)
	src := q.findLocked(sourceID)
	if dest == nil || src == nil || dest == src {
		return false
	}

	dest.Files = DedupFiles(append(dest.Files, src.Files...))
	for i, n := range q.nzbs {
		if n.ID == sourceID {
			q.nzbs = append(q.nzbs[:i], q.nzbs[i+1:]...)
			break
		}
	}
	dest.Recalc()
	return true
}

// SplitNzb moves the named files out of the NzbInfo identified by id into a
// brand new NzbInfo appended to the queue, returning the new NzbInfo (spec
// 4.7 edit(split)). The split files keep their own FileInfo pointers; no
// article data is copied.
func (q *Queue) SplitNzb(id string, fileIDs []string, newDisplayName string) *NzbInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	src := q.findLocked(id)
	if src == nil {
		return nil
	}

	want := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		want[id] = true
	}

	var kept, moved []*FileInfo
	for _, f := range src.Files {
		if want[f.ID] {
			moved = append(moved, f)
		} else {
			kept = append(kept, f)
		}
	}
	if len(moved) == 0 {
		return nil
	}
	src.Files = kept
	src.Recalc()

	split := &NzbInfo{
		ID:          NewID(),
		Filename:    src.Filename,
		DisplayName: newDisplayName,
		DestDir:     src.DestDir,
		Category:    src.Category,
		Priority:    src.Priority,
		DupeKey:     src.DupeKey,
		DupeScore:   src.DupeScore,
		Files:       moved,
	}
	split.Recalc()
	q.nzbs = append(q.nzbs, split)
	return split
}

func (q *Queue) findLocked(id string) *NzbInfo {
	for _, n := range q.nzbs {
		if n.ID == id {
			return n
		}
	}
	return nil
}

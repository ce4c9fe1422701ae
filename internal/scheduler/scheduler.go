// Package scheduler implements the Article Scheduler (get_next_article,
// spec 4.3) and the Article Downloader per-task state machine (spec 4.5),
// grounded algorithmically on
// original_source/trunk/daemon/nntp/ArticleDownloader.cpp.
package scheduler

import (
	"time"

	"github.com/nzbgetd/nzbgetd/internal/queue"
)

// ArticleLoader lazy-loads a FileInfo's article list from Disk State the
// first time the scheduler touches it (spec 4.3 step 2).
type ArticleLoader func(f *queue.FileInfo) error

// Scheduler selects the next article to download by priority, state, and
// propagation delay (spec 4.3). It is stateless beyond its configuration;
// all queue access goes through the caller-supplied Queue's own lock.
type Scheduler struct {
	PropagationDelay time.Duration
	LoadArticles     ArticleLoader
	Now              func() time.Time
}

func New(propagationDelay time.Duration, loader ArticleLoader) *Scheduler {
	return &Scheduler{PropagationDelay: propagationDelay, LoadArticles: loader, Now: time.Now}
}

// Selection is one scheduled unit of work.
type Selection struct {
	Nzb     *queue.NzbInfo
	File    *queue.FileInfo
	Article *queue.ArticleInfo
}

// Next implements the selection rule from spec 4.3. Callers must hold the
// Queue's outer lock for the duration of this call (it mutates File.Checked
// scratch flags and lazily loads articles).
func (s *Scheduler) Next(nzbs []*queue.NzbInfo, globalPaused bool) (*Selection, error) {
	now := s.Now()
	cutoff := now.Add(-s.PropagationDelay)

	for {
		best := s.pickBestFileLocked(nzbs, globalPaused, cutoff)
		if best == nil {
			return nil, nil
		}

		if !best.file.ArticlesLoaded && s.LoadArticles != nil {
			if err := s.LoadArticles(best.file); err != nil {
				return nil, err
			}
			best.file.ArticlesLoaded = true
		}

		if art := firstUndefined(best.file); art != nil {
			return &Selection{Nzb: best.nzb, File: best.file, Article: art}, nil
		}

		// No more Undefined articles in this file: mark it checked in the
		// scratch set (spec 4.3 step 4) and retry the scan.
		best.file.Checked = true
	}
}

type candidate struct {
	nzb  *queue.NzbInfo
	file *queue.FileInfo
}

func (s *Scheduler) pickBestFileLocked(nzbs []*queue.NzbInfo, globalPaused bool, cutoff time.Time) *candidate {
	var best *candidate
	var bestExtra bool
	var bestPriority int

	for _, n := range nzbs {
		for _, f := range n.Files {
			if f.Paused || f.Deleted || f.Checked {
				continue
			}
			if time.Unix(f.Time, 0).After(cutoff) {
				continue // not yet past propagation delay
			}
			effectivePause := globalPaused && !f.ExtraPriority && !n.IsForcePriority()
			if effectivePause {
				continue
			}

			if best == nil || greaterPriority(f.ExtraPriority, n.Priority, bestExtra, bestPriority) {
				best = &candidate{nzb: n, file: f}
				bestExtra, bestPriority = f.ExtraPriority, n.Priority
			}
		}
	}
	return best
}

// greaterPriority compares (extraPriority, priority) pairs: extraPriority
// true always outranks false; otherwise higher numeric priority wins.
func greaterPriority(extraA bool, prioA int, extraB bool, prioB int) bool {
	if extraA != extraB {
		return extraA
	}
	return prioA > prioB
}

func firstUndefined(f *queue.FileInfo) *queue.ArticleInfo {
	for _, a := range f.Articles {
		if a.Status == queue.ArticleUndefined {
			return a
		}
	}
	return nil
}

// ResetCheckedFlags clears the scratch Checked flag on every file, called
// once per full scheduler pass so a file that had no Undefined articles left
// when it was checked but has gained new Undefined articles since (e.g. a
// hang-reaper reset) is reconsidered.
func ResetCheckedFlags(nzbs []*queue.NzbInfo) {
	for _, n := range nzbs {
		for _, f := range n.Files {
			f.Checked = false
		}
	}
}

// Package queue implements the canonical in-memory Download Queue (spec 3),
// its invariants, the health guard (spec 4.5/4.7) and the dedup rule. The
// Queue Coordinator main loop that ties the Server Pool, Article Scheduler,
// and Article Writer together lives in internal/coordinator. Entity shapes
// are grounded on
// original_source/trunk/daemon/queue/DownloadInfo.h/cpp; lifecycle/locking
// idiom is grounded on datallboy-GoNZB/internal/engine/manager.go's
// sync.RWMutex-guarded state machine.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"
)

// ArticleStatus is the per-article state (spec 3, invariant 5).
type ArticleStatus int

const (
	ArticleUndefined ArticleStatus = iota
	ArticleRunning
	ArticleFinished
	ArticleFailed
)

// ArticleInfo is one NNTP article (spec 3).
type ArticleInfo struct {
	PartNumber int
	MessageID  string
	Size       int64
	Status     ArticleStatus

	// Populated after decode.
	SegmentOffset int64
	SegmentLength int64
	CRC32         uint32

	// TempPath is the on-disk fragment path in non-direct-write mode; empty
	// when writing directly to the sparse output file.
	TempPath string
}

// DeleteStatus / MarkStatus / ParStatus / UnpackStatus / MoveStatus mirror
// the small enums NZBInfo composes into its canonical text status (spec 7).
type DeleteStatus int

const (
	DeleteNone DeleteStatus = iota
	DeleteManual
	DeleteHealth
	DeleteDupe
)

type MarkStatus int

const (
	MarkNone MarkStatus = iota
	MarkBad
	MarkGood
)

type ParStatus int

const (
	ParNone ParStatus = iota
	ParSkipped
	ParFailure
	ParManual
	ParRepairPossible
	ParSuccess
)

type UnpackStatus int

const (
	UnpackNone UnpackStatus = iota
	UnpackSkipped
	UnpackFailure
	UnpackSpace
	UnpackSuccess
)

type MoveStatus int

const (
	MoveNone MoveStatus = iota
	MoveFailure
	MoveSuccess
)

// FileInfo is one source file within an NzbInfo (spec 3).
type FileInfo struct {
	ID      string
	NZBID   string
	Subject string
	// Filename is initially parsed from the subject line; FilenameConfirmed
	// flips false->true at most once, when an article body reveals the
	// canonical yEnc name (invariant 6).
	Filename          string
	FilenameConfirmed bool

	// Groups lists the newsgroup names carried by this file's NZB <groups>
	// element, tried in order by the downloader's JOIN_GROUP step (spec 4.5
	// step 1).
	Groups []string

	Size           int64
	RemainingSize  int64
	SuccessSize    int64
	FailedSize     int64
	MissedSize     int64
	IsParFile      bool
	Paused         bool
	Deleted        bool
	OutputFilename string

	// Time is the posting time (unix seconds), used both by the scheduler's
	// propagation-delay gate and by the downloader's retention check.
	Time int64
	// ExtraPriority marks a file that ignores the global pause (spec 4.3).
	ExtraPriority bool
	// Checked is a scratch flag the scheduler sets once it has confirmed a
	// file has no remaining Undefined articles, so the next scan can skip
	// it without re-deriving that fact (spec 4.3 step 4).
	Checked bool

	mu              sync.Mutex
	activeDownloads int32
	ArticlesLoaded  bool

	Articles []*ArticleInfo

	// outputLock serialises first-time sparse-file creation in
	// direct-write mode (spec 3 invariant 9).
	outputLock sync.Mutex
}

func (f *FileInfo) ActiveDownloads() int32 { return atomic.LoadInt32(&f.activeDownloads) }
func (f *FileInfo) IncActiveDownloads()     { atomic.AddInt32(&f.activeDownloads, 1) }
func (f *FileInfo) DecActiveDownloads()     { atomic.AddInt32(&f.activeDownloads, -1) }

func (f *FileInfo) OutputLock() *sync.Mutex { return &f.outputLock }

func (f *FileInfo) TotalArticles() int { return len(f.Articles) }

func (f *FileInfo) SuccessArticles() int {
	n := 0
	for _, a := range f.Articles {
		if a.Status == ArticleFinished {
			n++
		}
	}
	return n
}

func (f *FileInfo) FailedArticles() int {
	n := 0
	for _, a := range f.Articles {
		if a.Status == ArticleFailed {
			n++
		}
	}
	return n
}

// HasRunningArticles reports whether any article is still in flight, used
// by the Coordinator to decide when complete_file_parts may run.
func (f *FileInfo) HasRunningArticles() bool {
	for _, a := range f.Articles {
		if a.Status == ArticleRunning {
			return true
		}
	}
	return false
}

// NzbInfo is one submitted batch (spec 3).
type NzbInfo struct {
	ID          string
	Filename    string
	DisplayName string
	DestDir     string
	Category    string
	Priority    int // force threshold = 900
	DupeKey     string
	DupeScore   int

	Size                 int64
	RemainingSize        int64
	PausedSize           int64
	SuccessSize          int64
	FailedSize           int64
	ParSize              int64
	ParSuccessSize       int64
	ParFailedSize        int64
	CurrentFailedSize    int64
	ParCurrentFailedSize int64

	SuccessArticles int64
	FailedArticles  int64

	DeleteStatus DeleteStatus
	MarkStatus   MarkStatus
	ParStatus    ParStatus
	UnpackStatus UnpackStatus
	MoveStatus   MoveStatus

	HealthPaused bool
	GlobalPaused bool // per-NZB reflection of the coordinator's global pause

	// Parameters holds post-process script parameters set via
	// edit(set_parameter) (spec 4.7).
	Parameters map[string]string

	mu              sync.Mutex
	activeDownloads int32

	Files []*FileInfo

	CompletedFiles []CompletedFile
}

func (n *NzbInfo) ActiveDownloads() int32 { return atomic.LoadInt32(&n.activeDownloads) }

// Recalc recomputes the NzbInfo's aggregates from its Files: the
// active-download count (invariant 4: nzb.active_downloads = sum of
// file.active_downloads) and the remaining, paused, success and failed size
// totals.
func (n *NzbInfo) Recalc() {
	var total int32
	var remaining, paused, success, failed int64
	for _, f := range n.Files {
		total += f.ActiveDownloads()
		if !f.Paused && !f.Deleted {
			remaining += f.RemainingSize
		} else if f.Paused {
			paused += f.RemainingSize
		}
		success += f.SuccessSize
		failed += f.FailedSize
	}
	atomic.StoreInt32(&n.activeDownloads, total)
	n.RemainingSize = remaining
	n.PausedSize = paused
	n.SuccessSize = success
	n.FailedSize = failed
}

func (n *NzbInfo) IsForcePriority() bool { return n.Priority >= 900 }

// CompletedFile is a post-download record (spec 3).
type CompletedFileStatus int

const (
	CompletedSuccess CompletedFileStatus = iota
	CompletedPartial
	CompletedFailure
)

type CompletedFile struct {
	Filename string
	Status   CompletedFileStatus
	CRC32    uint32
}

// DupInfo is a slim record carried after an NZB is purged (spec 3).
type DupInfo struct {
	ID        string
	Filename  string
	DupeKey   string
	DupeScore int
	Status    string
}

func NewID() string { return ksuid.New().String() }

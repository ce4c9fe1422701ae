// Package coordinator implements the Queue Coordinator main loop (spec
// 4.7): the single owner of the Download Queue that ties the Server Pool,
// Article Scheduler, Article Downloader, and Article Writer together, plus
// the health guard and the hang reaper. Grounded on the orchestration idiom
// of datallboy-GoNZB/internal/engine/manager.go's QueueManager (one
// mutex-guarded owner driving a background loop) and on
// original_source/trunk/daemon/queue/QueueCoordinator.cpp for the tick's
// operation order.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	concpool "github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/nzbgetd/nzbgetd/internal/diskstate"
	"github.com/nzbgetd/nzbgetd/internal/events"
	"github.com/nzbgetd/nzbgetd/internal/nzbparse"
	"github.com/nzbgetd/nzbgetd/internal/queue"
	"github.com/nzbgetd/nzbgetd/internal/scheduler"
	"github.com/nzbgetd/nzbgetd/internal/serverpool"
	"github.com/nzbgetd/nzbgetd/internal/statmeter"
	"github.com/nzbgetd/nzbgetd/internal/writer"
)

// Config holds the coordinator-level tunables from spec 6 that aren't owned
// by one of its collaborators directly.
type Config struct {
	TickInterval     time.Duration
	ArticleTimeout   time.Duration
	TerminateTimeout time.Duration
	HealthCheck      queue.HealthCheckPolicy
	SaveInterval     time.Duration
}

// Coordinator owns the Queue and drives the main loop. All fields it reads
// from concurrently (pause flag, generation counter) are atomics; the Queue
// itself remains the single lock domain, per spec 4.7.
type Coordinator struct {
	q       *queue.Queue
	pool     *serverpool.Pool
	sched    *scheduler.Scheduler
	writer   *writer.Writer
	store    *diskstate.Store
	bus      *events.Bus
	stats    *statmeter.ServerStats
	meter    *statmeter.Meter
	throttle *statmeter.Throttle
	cfg      Config
	downCfg  scheduler.DownloaderConfig
	log      *zap.Logger

	paused     atomicBool
	generation atomicInt

	mu          sync.Mutex
	activeTasks map[string]*activeTask // keyed by ArticleInfo.MessageID
	notifiedDel map[string]bool        // FileInfo.ID -> FileDeleted already emitted

	workers *concpool.Pool
}

type activeTask struct {
	task    *scheduler.Task
	sel     *scheduler.Selection
	started time.Time
}

func New(q *queue.Queue, pool *serverpool.Pool, sched *scheduler.Scheduler, wr *writer.Writer,
	store *diskstate.Store, bus *events.Bus, stats *statmeter.ServerStats, meter *statmeter.Meter,
	throttle *statmeter.Throttle, cfg Config, downCfg scheduler.DownloaderConfig, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		q: q, pool: pool, sched: sched, writer: wr, store: store, bus: bus,
		stats: stats, meter: meter, throttle: throttle, cfg: cfg, downCfg: downCfg, log: log,
		activeTasks: make(map[string]*activeTask),
		notifiedDel: make(map[string]bool),
	}
	c.workers = concpool.New().WithMaxGoroutines(pool.DownloadsLimit())
	return c
}

func (c *Coordinator) SetPaused(p bool) { c.paused.set(p) }
func (c *Coordinator) Paused() bool     { return c.paused.get() }
func (c *Coordinator) Generation() int  { return c.generation.get() }
func (c *Coordinator) bumpGeneration()  { c.generation.add(1) }

func (c *Coordinator) globalState() scheduler.GlobalState {
	return scheduler.GlobalState{Paused: c.Paused, Generation: c.Generation}
}

// AddNzb converts a parsed manifest into a queued NzbInfo and publishes the
// ingestion events (spec 4.7 add_nzb): "performs internal dedup ... adds to
// queue head or tail. Emits NzbFound and NzbAdded events."
func (c *Coordinator) AddNzb(m *nzbparse.Manifest, filename, destDir, category string, priority int, addFirst bool) *queue.NzbInfo {
	n := queue.NewNzbFromManifest(m, filename, destDir, category, priority)
	c.bus.Publish(events.Event{Kind: events.NzbFound, Payload: n})
	c.q.AddNzb(n, addFirst)
	c.bus.Publish(events.Event{Kind: events.NzbAdded, Payload: n})
	return n
}

// Edit wraps Queue.Edit with event emission and a save, per spec 4.7: "local
// mutations to the queue under the same lock followed by event emission and
// save."
func (c *Coordinator) Edit(id string, action queue.EditAction, param string) bool {
	ok := c.q.Edit(id, action, param)
	if !ok {
		return false
	}
	if action == queue.ActionGroupDelete {
		c.beginDeleteNzb(id)
	}
	c.bumpGeneration()
	c.saveQueue(context.Background())
	return true
}

// DeleteFile marks a single file deleted and cancels any in-flight task
// downloading one of its articles; the file only leaves the queue (or
// rather, stops counting toward its NzbInfo's remaining work) once its
// active-download counter has drained, matching spec 8's "after
// edit(delete) completes and the active-downloads counter reaches 0" rule.
func (c *Coordinator) DeleteFile(fileID string) bool {
	var found *queue.FileInfo
	for _, n := range c.q.All() {
		for _, f := range n.Files {
			if f.ID == fileID {
				found = f
				break
			}
		}
	}
	if found == nil {
		return false
	}
	found.Deleted = true

	c.mu.Lock()
	for _, at := range c.activeTasks {
		if at.sel.File.ID == fileID {
			at.task.Stop()
		}
	}
	c.mu.Unlock()
	return true
}

func (c *Coordinator) beginDeleteNzb(nzbID string) {
	n := c.q.Find(nzbID)
	if n == nil {
		return
	}
	for _, f := range n.Files {
		f.Deleted = true
	}
	c.mu.Lock()
	for _, at := range c.activeTasks {
		if at.sel.Nzb.ID == nzbID {
			at.task.Stop()
		}
	}
	c.mu.Unlock()
}

// Tick runs one iteration of the coordinator's main loop: health check,
// deletion drain, dispatch, hang reaper, and idle-connection cleanup. It
// does not save; Run saves the queue on its own SaveInterval. Exported so
// callers/tests can step the loop deterministically instead of only via
// Run's ticker.
func (c *Coordinator) Tick(ctx context.Context) {
	c.runHealthChecks()
	c.drainDeletedFiles()
	c.dispatch(ctx)
	c.reapHungTasks()
	c.pool.CloseUnusedConnections()
}

// Run drives Tick on cfg.TickInterval until ctx is cancelled, additionally
// persisting the queue every cfg.SaveInterval (spec 4.9).
func (c *Coordinator) Run(ctx context.Context) {
	tick := c.cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	lastSave := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.workers.Wait()
			return
		case <-ticker.C:
			c.Tick(ctx)
			if c.cfg.SaveInterval > 0 && time.Since(lastSave) >= c.cfg.SaveInterval {
				c.saveQueue(ctx)
				lastSave = time.Now()
			}
		}
	}
}

func (c *Coordinator) runHealthChecks() {
	for _, n := range c.q.All() {
		switch queue.CheckHealth(n, c.cfg.HealthCheck) {
		case queue.HealthGuardPaused:
			for _, f := range n.Files {
				f.Paused = true
			}
			c.log.Info("nzb health-paused", zap.String("nzb", n.ID))
		case queue.HealthGuardDeleted:
			c.beginDeleteNzb(n.ID)
			c.log.Info("nzb health-deleted", zap.String("nzb", n.ID))
		}
	}
}

// drainDeletedFiles emits FileDeleted exactly once per file, the instant its
// active-download counter reaches zero, and folds a fully-deleted NzbInfo
// (every file deleted, none still running) into history.
func (c *Coordinator) drainDeletedFiles() {
	for _, n := range c.q.All() {
		allDeleted := len(n.Files) > 0
		for _, f := range n.Files {
			if !f.Deleted {
				allDeleted = false
				continue
			}
			if f.ActiveDownloads() == 0 && !c.notified(f.ID) {
				c.markNotified(f.ID)
				c.bus.Publish(events.Event{Kind: events.FileDeleted, Payload: f})
			}
			if f.ActiveDownloads() > 0 {
				allDeleted = false
			}
		}
		if allDeleted && n.DeleteStatus != queue.DeleteNone {
			if c.q.RemoveToHistory(n.ID) {
				c.bus.Publish(events.Event{Kind: events.NzbDeleted, Payload: n})
			}
		}
	}
}

func (c *Coordinator) notified(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifiedDel[fileID]
}

func (c *Coordinator) markNotified(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiedDel[fileID] = true
}

// dispatch asks the Scheduler for as many selections as the Server Pool can
// currently serve and spawns a downloader Task per selection (spec 4.3 +
// 4.5). Scheduling and spawning happen under the Queue's own lock window per
// selection, matching the reference's "pick one, start it, repeat" loop.
// Each pass starts by clearing every file's scratch Checked flag, so a file
// drained of Undefined articles on an earlier pass is reconsidered once an
// article returns to Undefined (a Retry outcome, or a hang-reaper Stop/
// Terminate that resolves through Retry).
func (c *Coordinator) dispatch(ctx context.Context) {
	c.q.Lock()
	scheduler.ResetCheckedFlags(c.q.AllLocked())
	c.q.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.q.Lock()
		sel, err := c.sched.Next(c.q.AllLocked(), c.Paused())
		c.q.Unlock()
		if err != nil {
			c.log.Error("scheduler selection failed", zap.Error(err))
			return
		}
		if sel == nil {
			return
		}

		sel.Article.Status = queue.ArticleRunning
		sel.File.IncActiveDownloads()

		task := scheduler.NewTask(c.pool, c.writer, c.throttle, c.meter, c.stats, c.downCfg, c.globalState(), c.log)
		c.log.Debug("dispatching article",
			zap.String("task_id", task.ID()), zap.String("file", sel.File.ID),
			zap.String("article", sel.Article.MessageID))

		c.mu.Lock()
		c.activeTasks[sel.Article.MessageID] = &activeTask{task: task, sel: sel, started: time.Now()}
		c.mu.Unlock()

		c.workers.Go(func() {
			outcome := task.Run(sel.Nzb, sel.File, sel.Article, sel.File.Groups, sel.Nzb.IsForcePriority())
			c.mu.Lock()
			delete(c.activeTasks, sel.Article.MessageID)
			c.mu.Unlock()
			c.handleOutcome(sel, outcome)
		})
	}
}

// handleOutcome finalizes one article's state after its Task returns,
// recomputes the owning NzbInfo's aggregates, and completes the file when no
// articles remain in flight (spec 4.5's outer Outcome contract; spec 4.6's
// complete_file_parts trigger).
func (c *Coordinator) handleOutcome(sel *scheduler.Selection, outcome scheduler.Outcome) {
	c.q.Lock()
	defer c.q.Unlock()

	sel.File.DecActiveDownloads()

	switch outcome {
	case scheduler.Finished:
		sel.Article.Status = queue.ArticleFinished
		sel.File.SuccessSize += sel.Article.Size
		sel.File.RemainingSize -= sel.Article.Size
	case scheduler.Retry:
		// Spurious abort (stopped/paused/generation changed): the article
		// goes back to Undefined so a later scheduler pass retries it, with
		// no failure recorded against it.
		sel.Article.Status = queue.ArticleUndefined
	default: // Failed, NotFound, FatalError
		sel.Article.Status = queue.ArticleFailed
		sel.File.FailedSize += sel.Article.Size
		sel.File.RemainingSize -= sel.Article.Size
		sel.Nzb.CurrentFailedSize += sel.Article.Size
	}

	sel.Nzb.Recalc()

	if !sel.File.HasRunningArticles() && allArticlesTerminal(sel.File) {
		c.completeFile(sel.Nzb, sel.File)
	}
}

func allArticlesTerminal(f *queue.FileInfo) bool {
	for _, a := range f.Articles {
		if a.Status == queue.ArticleUndefined || a.Status == queue.ArticleRunning {
			return false
		}
	}
	return true
}

func (c *Coordinator) completeFile(n *queue.NzbInfo, f *queue.FileInfo) {
	cf, err := c.writer.CompleteFileParts(f, n.DestDir)
	if err != nil {
		c.log.Error("complete file parts failed", zap.String("file", f.ID), zap.Error(err))
		return
	}
	n.CompletedFiles = append(n.CompletedFiles, cf)
	c.log.Info("file completed",
		zap.String("file", f.ID), zap.String("filename", f.Filename),
		zap.String("size", humanize.Bytes(uint64(f.Size))))
	c.bus.Publish(events.Event{Kind: events.FileCompleted, Payload: f})
}

// reapHungTasks implements the hang reaper (spec 4.5): a task whose last
// body-line update is older than article_timeout plus one second gets Stop() (unblocks the
// read, eligible for a fresh attempt); one older than terminate_timeout gets
// Terminate() instead. Both just cancel the task's current connection --
// isStopped() then makes Task.Run's own loop return Retry, so the article
// reset and active-download decrement happen through the same
// dispatch-goroutine -> handleOutcome path every other outcome takes, not
// here.
func (c *Coordinator) reapHungTasks() {
	now := time.Now()
	c.mu.Lock()
	tasks := make([]*activeTask, 0, len(c.activeTasks))
	for _, at := range c.activeTasks {
		tasks = append(tasks, at)
	}
	c.mu.Unlock()

	for _, at := range tasks {
		age := now.Sub(at.task.LastUpdate())
		switch {
		case c.cfg.TerminateTimeout > 0 && age >= c.cfg.TerminateTimeout:
			at.task.Terminate()
		case c.cfg.ArticleTimeout > 0 && age >= c.cfg.ArticleTimeout+time.Second:
			at.task.Stop()
		}
	}
}

func (c *Coordinator) saveQueue(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveDownloadQueue(ctx, c.q); err != nil {
		c.log.Error("save download queue failed", zap.Error(err))
	}
	if err := c.store.SaveHistory(ctx, c.q.History()); err != nil {
		c.log.Error("save history failed", zap.Error(err))
	}
	if err := c.store.SaveStats(ctx, c.stats); err != nil {
		c.log.Error("save stats failed", zap.Error(err))
	}
}

package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nzbgetd/nzbgetd/internal/decoding"
	"github.com/nzbgetd/nzbgetd/internal/nntpengine"
	"github.com/nzbgetd/nzbgetd/internal/queue"
	"github.com/nzbgetd/nzbgetd/internal/serverpool"
	"github.com/nzbgetd/nzbgetd/internal/statmeter"
	"github.com/nzbgetd/nzbgetd/internal/writer"
)

// Outcome is the terminal state an Article Downloader task reports back to
// the Coordinator (spec 4.5).
type Outcome int

const (
	Finished Outcome = iota
	Failed
	Retry
	NotFound
	CrcError
	ConnectError
	FatalError
)

func (o Outcome) String() string {
	switch o {
	case Finished:
		return "Finished"
	case Failed:
		return "Failed"
	case Retry:
		return "Retry"
	case NotFound:
		return "NotFound"
	case CrcError:
		return "CrcError"
	case ConnectError:
		return "ConnectError"
	case FatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// DownloaderConfig holds the per-task tunables drawn from spec 6.
type DownloaderConfig struct {
	Retries          int
	RetryInterval    time.Duration
	CRCCheckEnabled  bool
	UseBody          bool // false selects ARTICLE, matching spec 4.5 step 2
	BlockOnConnError time.Duration
}

// GlobalState is the small slice of coordinator state the downloader must
// consult before (re)acquiring a connection (spec 4.5: "if stopped or
// globally paused (and not force) or server-config changed -> Retry").
type GlobalState struct {
	Paused     func() bool
	Generation func() int
}

// Task drives one article's download end to end: connection acquisition
// with level/failover, the ARTICLE sub-protocol, decoding, and writing.
// Grounded on original_source/trunk/daemon/nntp/ArticleDownloader.cpp; one
// Task exists per in-flight article, matching the reference's
// one-OS-thread-per-download model expressed here as one goroutine per
// Task.
type Task struct {
	id       uuid.UUID
	pool     *serverpool.Pool
	wr       *writer.Writer
	throttle *statmeter.Throttle
	meter    *statmeter.Meter
	stats    *statmeter.ServerStats
	cfg      DownloaderConfig
	global   GlobalState
	log      *zap.Logger

	mu          sync.Mutex
	currentConn *nntpengine.Connection
	lastUpdate  time.Time
	stopped     bool
	terminated  bool
}

func NewTask(pool *serverpool.Pool, wr *writer.Writer, throttle *statmeter.Throttle, meter *statmeter.Meter, stats *statmeter.ServerStats, cfg DownloaderConfig, global GlobalState, log *zap.Logger) *Task {
	if log == nil {
		log = zap.NewNop()
	}
	return &Task{id: uuid.New(), pool: pool, wr: wr, throttle: throttle, meter: meter, stats: stats, cfg: cfg, global: global, log: log, lastUpdate: time.Now()}
}

// ID is a correlation id for log lines spanning this task's lifetime,
// distinct from the article's NNTP Message-ID (spec 4.5's own identifier).
func (t *Task) ID() string { return t.id.String() }

// LastUpdate reports the timestamp of the most recent body line received,
// consumed by the Coordinator's hang reaper.
func (t *Task) LastUpdate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUpdate
}

// Stop unblocks any in-flight read without marking the task as having
// exceeded terminate_timeout (spec 4.5 hang reaper, first threshold).
func (t *Task) Stop() {
	t.mu.Lock()
	t.stopped = true
	conn := t.currentConn
	t.mu.Unlock()
	if conn != nil {
		conn.Cancel()
	}
}

// Terminate force-ends the task past terminate_timeout by marking it
// terminated and cancelling its current connection. Run then returns Retry,
// and the Coordinator's outcome handling resets the Article to Undefined and
// decrements the active-download counter.
func (t *Task) Terminate() {
	t.mu.Lock()
	t.terminated = true
	conn := t.currentConn
	t.mu.Unlock()
	if conn != nil {
		conn.Cancel()
	}
}

func (t *Task) Terminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated
}

// Stopped reports whether Stop (or Terminate) has been called, so the
// Coordinator's hang reaper can confirm a reap actually took effect.
func (t *Task) Stopped() bool {
	return t.isStopped()
}

func (t *Task) touch() {
	t.mu.Lock()
	t.lastUpdate = time.Now()
	t.mu.Unlock()
}

func (t *Task) setConn(c *nntpengine.Connection) {
	t.mu.Lock()
	t.currentConn = c
	t.mu.Unlock()
}

func (t *Task) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped || t.terminated
}

// Run implements the spec 4.5 state machine. groups lists the NZB's group
// names to try, in order, for JOIN_GROUP. force is the owning NzbInfo's
// force-priority flag (bypasses the global pause check).
func (t *Task) Run(nzb *queue.NzbInfo, file *queue.FileInfo, article *queue.ArticleInfo, groups []string, force bool) Outcome {
	level := 0
	retriesRemaining := t.cfg.Retries
	if retriesRemaining < 1 {
		retriesRemaining = 1
	}
	var failedServers []*serverpool.NewsServer
	var wantServer *serverpool.NewsServer

	generation := t.global.Generation()

	for {
		if t.isStopped() {
			return Retry
		}
		if t.global.Paused != nil && t.global.Paused() && !force {
			return Retry
		}
		if t.global.Generation != nil && t.global.Generation() != generation {
			return Retry
		}

		handout := t.pool.GetConnection(level, wantServer, failedServers)
		if handout == nil {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		server, conn := handout.Server, handout.Conn

		if server.Retention > 0 && ageDays(file.Time) > server.Retention {
			// Disqualified by age, not by server health: does not count
			// against this server at this level (resolved ambiguity, see
			// the decision recorded alongside this state machine).
			t.pool.FreeConnection(conn, false)
			if level < t.pool.MaxNormLevel() {
				level++
				retriesRemaining = t.cfg.Retries
				wantServer = nil
				continue
			}
			// Exhausted every level without finding a server retaining this
			// article's age: a Failed article per spec 4.5/7's taxonomy
			// (RetentionExpired), not NotFound.
			return Failed
		}

		var status Outcome
		connectFailed := false
		if conn.State() != nntpengine.Connected {
			if err := conn.Connect(); err != nil {
				connectFailed = true
				status = ConnectError
			}
		}
		if !connectFailed {
			t.setConn(conn)
			status = t.download(conn, nzb, file, article, groups)
			t.setConn(nil)
		}

		if server != nil {
			if status == Finished {
				t.stats.RecordSuccess(server.ID)
			} else {
				t.stats.RecordFailure(server.ID)
			}
		}

		switch status {
		case Finished:
			t.pool.FreeConnection(conn, true)
			return Finished
		case NotFound, CrcError:
			failedServers = append(failedServers, server)
			wantServer = nil
			t.pool.FreeConnection(conn, true)
		case Failed:
			t.pool.FreeConnection(conn, true)
			retriesRemaining--
			if retriesRemaining > 0 {
				wantServer = server
				if t.cfg.RetryInterval > 0 {
					time.Sleep(t.cfg.RetryInterval)
				}
			} else {
				failedServers = append(failedServers, server)
				wantServer = nil
				retriesRemaining = t.cfg.Retries
			}
		case ConnectError:
			t.pool.FreeConnection(conn, false)
			t.log.Debug("connect error, blocking server briefly", zap.String("task_id", t.id.String()), zap.String("server", server.ID))
			if t.cfg.BlockOnConnError > 0 {
				t.pool.BlockServer(server, t.cfg.BlockOnConnError)
			}
			retriesRemaining--
			if retriesRemaining <= 0 {
				failedServers = append(failedServers, server)
				wantServer = nil
				retriesRemaining = t.cfg.Retries
			}
		case FatalError:
			t.pool.FreeConnection(conn, true)
			return FatalError
		}

		if allExhausted(t.pool.ServersAtLevel(level), failedServers) {
			if level < t.pool.MaxNormLevel() {
				level++
				retriesRemaining = t.cfg.Retries
				wantServer = nil
			} else {
				return Failed
			}
		}
	}
}

func ageDays(posted int64) int {
	return int(time.Since(time.Unix(posted, 0)).Hours() / 24)
}

func allExhausted(atLevel, failed []*serverpool.NewsServer) bool {
	if len(atLevel) == 0 {
		return true
	}
	for _, s := range atLevel {
		found := false
		for _, f := range failed {
			if f == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// download implements spec 4.5's Download(conn) sub-protocol: JOIN_GROUP,
// ARTICLE with up to 3 immediate retries, line-by-line decode, and
// Writer.start/finish.
func (t *Task) download(conn *nntpengine.Connection, nzb *queue.NzbInfo, file *queue.FileInfo, article *queue.ArticleInfo, groups []string) Outcome {
	if len(groups) > 0 {
		joined := false
		for _, g := range groups {
			if err := conn.JoinGroup(g); err == nil {
				joined = true
				break
			}
		}
		if !joined {
			return Failed
		}
	}

	var dec decoding.Decoder
	var started bool
	var written int64
	var writePath string
	var writeErr error

	sink := func(line []byte) error {
		t.touch()
		if t.throttle != nil {
			t.throttle.Wait(len(line), t.touch)
		}
		if t.meter != nil {
			t.meter.AddSpeedReading(int64(len(line)))
		}

		if dec == nil {
			format := decoding.Sniff(line)
			if format == decoding.Unknown {
				return nil // keep scanning for the header line
			}
			dec = decoding.New(format)
		}

		data, err := dec.Feed(line)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}

		if !started {
			started = true
			path, err := t.wr.Start(file, article, dec.FileSize(), dec.Offset(), dec.Size())
			if err != nil {
				writeErr = err
				return err
			}
			writePath = path
			if !file.FilenameConfirmed && dec.ArticleFilename() != "" {
				file.Filename = dec.ArticleFilename()
				file.FilenameConfirmed = true
			}
		}

		offset := dec.Offset() + written
		if err := t.wr.Write(writePath, data, offset); err != nil {
			writeErr = err
			return err
		}
		written += int64(len(data))
		return nil
	}

	// Up to 3 immediate retries of the ARTICLE command itself (spec 4.5 step
	// 2), but only for a plain non-2xx Failed: NotFound/ConnectError/Auth
	// carry their own meaning for the outer state machine and must not be
	// masked by a same-connection retry here.
	lastErr := retry.Do(
		func() error {
			dec, started, written = nil, false, 0
			return conn.ReadArticleBody(article.MessageID, t.cfg.UseBody, sink)
		},
		retry.Attempts(4), // the first try plus up to 3 retries
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, nntpengine.ErrFailed) }),
	)

	if writeErr != nil {
		if writePath != "" {
			t.wr.Finish(writePath, false)
		}
		return FatalError
	}

	if lastErr != nil {
		if writePath != "" {
			t.wr.Finish(writePath, false)
		}
		switch {
		case errors.Is(lastErr, nntpengine.ErrNotFound):
			return NotFound
		case errors.Is(lastErr, nntpengine.ErrConnect), errors.Is(lastErr, nntpengine.ErrAuth):
			return ConnectError
		default:
			return Failed
		}
	}

	if dec == nil {
		return Failed // no recognisable header was ever seen
	}

	if _, finishErr := t.wr.Finish(writePath, true); finishErr != nil {
		return FatalError
	}

	switch dec.Check(t.cfg.CRCCheckEnabled) {
	case decoding.Finished:
		// dec.CRC32() is this article's own running CRC, accumulated purely
		// from its decoded bytes -- unlike the Writer's shared direct-write
		// handle, it stays correct regardless of what order sibling
		// articles' WriteAt calls land in.
		article.CRC32 = dec.CRC32()
		article.SegmentOffset = dec.Offset()
		article.SegmentLength = dec.Size()
		article.TempPath = writePath
		return Finished
	case decoding.CrcError:
		return CrcError
	default:
		return Failed
	}
}

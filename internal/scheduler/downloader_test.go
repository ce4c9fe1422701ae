package scheduler

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nzbgetd/nzbgetd/internal/queue"
	"github.com/nzbgetd/nzbgetd/internal/serverpool"
	"github.com/nzbgetd/nzbgetd/internal/statmeter"
	"github.com/nzbgetd/nzbgetd/internal/writer"
)

func yEncLine(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		v := b + 0x2A
		switch v {
		case 0x00, 0x0A, 0x0D, '=':
			out = append(out, '=', v+0x40)
		default:
			out = append(out, v)
		}
	}
	return out
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf)
}

// fakeNNTPServer spins up a single-connection NNTP-like listener: greeting,
// then GROUP and ARTICLE commands, replying with the given body lines.
func fakeNNTPServer(t *testing.T, body []string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("200 posting ok\r\n"))

		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "GROUP"):
				conn.Write([]byte("211 0 0 0 group selected\r\n"))
			case strings.HasPrefix(line, "ARTICLE"):
				conn.Write([]byte("220 0 article retrieved\r\n"))
				for _, l := range body {
					conn.Write([]byte(l + "\r\n"))
				}
				conn.Write([]byte(".\r\n"))
			case strings.HasPrefix(line, "QUIT"):
				return
			default:
				conn.Write([]byte("500 unknown command\r\n"))
			}
		}
	}()
	return ln.Addr().String()
}

func testPool(t *testing.T, addr string) *serverpool.Pool {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}

	pool := serverpool.New(nil, 5*time.Second)
	pool.AddServer(&serverpool.NewsServer{
		ID: "s1", Host: host, Port: port, MaxConnection: 1, Level: 0, Active: true,
	})
	pool.InitConnections()
	return pool
}

func newTestTask(t *testing.T, pool *serverpool.Pool, crcCheck bool) (*Task, string) {
	t.Helper()
	tmp := t.TempDir()
	wr := writer.New(tmp, tmp, false)
	throttle := statmeter.NewThrottle(0)
	meter := statmeter.New(2)
	stats := statmeter.NewServerStats()

	cfg := DownloaderConfig{Retries: 3, CRCCheckEnabled: crcCheck}
	global := GlobalState{Paused: func() bool { return false }, Generation: func() int { return pool.Generation() }}
	return NewTask(pool, wr, throttle, meter, stats, cfg, global, nil), tmp
}

func TestTaskRunDownloadsAndDecodesArticle(t *testing.T) {
	payload := []byte("the article body, encoded with yEnc for the test")
	crc := crc32.ChecksumIEEE(payload)

	body := []string{
		fmt.Sprintf("=ybegin line=128 size=%d name=result.bin", len(payload)),
		string(yEncLine(payload)),
		fmt.Sprintf("=yend size=%d crc32=%s", len(payload), hex32(crc)),
	}
	addr := fakeNNTPServer(t, body)
	pool := testPool(t, addr)
	task, _ := newTestTask(t, pool, true)

	nzb := &queue.NzbInfo{ID: "n1"}
	file := &queue.FileInfo{ID: "f1", Filename: "result.bin", Time: time.Now().Unix()}
	article := &queue.ArticleInfo{MessageID: "abc123", PartNumber: 1}

	outcome := task.Run(nzb, file, article, nil, false)
	if outcome != Finished {
		t.Fatalf("Run() = %v, want Finished", outcome)
	}
	if article.CRC32 != crc {
		t.Fatalf("article.CRC32 = %08x, want %08x", article.CRC32, crc)
	}
}

func TestTaskRunCrcErrorDropsServerAndFails(t *testing.T) {
	payload := []byte("corrupt this payload")
	body := []string{
		"=ybegin line=128 size=20 name=bad.bin",
		string(yEncLine(payload)),
		"=yend size=20 crc32=deadbeef",
	}
	addr := fakeNNTPServer(t, body)
	pool := testPool(t, addr)
	task, _ := newTestTask(t, pool, true)

	nzb := &queue.NzbInfo{ID: "n1"}
	file := &queue.FileInfo{ID: "f1", Filename: "bad.bin", Time: time.Now().Unix()}
	article := &queue.ArticleInfo{MessageID: "bad1", PartNumber: 1}

	// A CRC error puts the only server on the failed list at once, with no
	// same-server retry; with no other server or level left, Run ends Failed.
	outcome := task.Run(nzb, file, article, nil, false)
	if outcome != Failed {
		t.Fatalf("Run() = %v, want Failed", outcome)
	}
	if _, failed := task.stats.Get("s1"); failed != 1 {
		t.Fatalf("s1 failures = %d, want 1 (one CRC error, no retry)", failed)
	}
}

func TestTaskRunRetentionDisqualifiesLowLevelServer(t *testing.T) {
	addr := fakeNNTPServer(t, []string{"=ybegin line=128 size=1 name=x", string(yEncLine([]byte("x"))), "=yend size=1"})
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	pool := serverpool.New(nil, 5*time.Second)
	pool.AddServer(&serverpool.NewsServer{ID: "s1", Host: host, Port: port, MaxConnection: 1, Level: 0, Active: true, Retention: 100})
	pool.InitConnections()
	task, _ := newTestTask(t, pool, false)

	nzb := &queue.NzbInfo{ID: "n1"}
	// Posted 200 days ago: exceeds the 100-day retention of the only
	// configured server, and there is no higher level to escalate to.
	file := &queue.FileInfo{ID: "f1", Filename: "x", Time: time.Now().Add(-200 * 24 * time.Hour).Unix()}
	article := &queue.ArticleInfo{MessageID: "x1", PartNumber: 1}

	outcome := task.Run(nzb, file, article, nil, false)
	if outcome != Failed {
		t.Fatalf("Run() = %v, want Failed (retention-disqualified with no higher level)", outcome)
	}
}

func TestTaskStopReturnsRetry(t *testing.T) {
	addr := fakeNNTPServer(t, []string{"=ybegin line=128 size=1 name=x"})
	pool := testPool(t, addr)
	task, _ := newTestTask(t, pool, false)
	task.Stop()

	nzb := &queue.NzbInfo{ID: "n1"}
	file := &queue.FileInfo{ID: "f1", Filename: "x", Time: time.Now().Unix()}
	article := &queue.ArticleInfo{MessageID: "x1", PartNumber: 1}

	if outcome := task.Run(nzb, file, article, nil, false); outcome != Retry {
		t.Fatalf("Run() after Stop = %v, want Retry", outcome)
	}
}

package diskstate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nzbgetd/nzbgetd/internal/queue"
	"github.com/nzbgetd/nzbgetd/internal/statmeter"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNzb() *queue.NzbInfo {
	n := &queue.NzbInfo{
		ID:          queue.NewID(),
		Filename:    "example.nzb",
		DisplayName: "Example",
		DestDir:     "/downloads/example",
		Category:    "movies",
		Priority:    100,
		DupeKey:     "example",
		Parameters:  map[string]string{"*Unpack:Password": "hunter2"},
	}
	f := &queue.FileInfo{
		ID:      queue.NewID(),
		NZBID:   n.ID,
		Subject: "example.part01.rar",
		Filename: "example.part01.rar",
		Size:    1024,
		Time:    1700000000,
		Articles: []*queue.ArticleInfo{
			{PartNumber: 1, MessageID: "<abc@example>", Size: 512, Status: queue.ArticleFinished},
			{PartNumber: 2, MessageID: "<def@example>", Size: 512, Status: queue.ArticleUndefined},
		},
	}
	n.Files = []*queue.FileInfo{f}
	n.Recalc()
	return n
}

func TestSaveAndLoadDownloadQueueRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := queue.New()
	n := sampleNzb()
	q.AddNzb(n, false)

	if err := s.SaveDownloadQueue(ctx, q); err != nil {
		t.Fatalf("SaveDownloadQueue: %v", err)
	}

	loaded, err := s.LoadDownloadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadDownloadQueue: %v", err)
	}

	all := loaded.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 nzb, got %d", len(all))
	}
	got := all[0]
	if got.ID != n.ID || got.DisplayName != n.DisplayName || got.Category != n.Category {
		t.Fatalf("round-tripped nzb mismatch: %+v", got)
	}
	if got.Parameters["*Unpack:Password"] != "hunter2" {
		t.Fatalf("expected parameter to round-trip, got %v", got.Parameters)
	}
	if len(got.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(got.Files))
	}
	if got.Files[0].ArticlesLoaded {
		t.Fatalf("LoadDownloadQueue must not eagerly load articles")
	}
	if len(got.Files[0].Articles) != 0 {
		t.Fatalf("expected no articles loaded, got %d", len(got.Files[0].Articles))
	}
}

func TestSaveAndLoadFileStateRoundTripsArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := sampleNzb()
	f := n.Files[0]

	if err := s.SaveFileState(ctx, f); err != nil {
		t.Fatalf("SaveFileState: %v", err)
	}

	reloaded := &queue.FileInfo{ID: f.ID}
	found, err := s.LoadFileState(ctx, reloaded)
	if err != nil {
		t.Fatalf("LoadFileState: %v", err)
	}
	if !found {
		t.Fatal("expected found=true for previously saved state")
	}
	if !reloaded.ArticlesLoaded {
		t.Fatal("expected ArticlesLoaded=true after a successful LoadFileState")
	}
	if len(reloaded.Articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(reloaded.Articles))
	}
	if reloaded.Articles[0].Status != queue.ArticleFinished {
		t.Fatalf("expected first article Finished, got %v", reloaded.Articles[0].Status)
	}
}

func TestArticleLoaderWithFallbackUsesManifestWhenNothingPersisted(t *testing.T) {
	s := newTestStore(t)

	fallbackCalled := false
	fallback := func(f *queue.FileInfo) error {
		fallbackCalled = true
		f.Articles = []*queue.ArticleInfo{{PartNumber: 1, MessageID: "<fresh@example>"}}
		f.ArticlesLoaded = true
		return nil
	}

	loader := s.ArticleLoaderWithFallback(fallback)
	f := &queue.FileInfo{ID: queue.NewID()}
	if err := loader(f); err != nil {
		t.Fatalf("loader: %v", err)
	}
	if !fallbackCalled {
		t.Fatal("expected fallback to be invoked when nothing was persisted")
	}
	if len(f.Articles) != 1 {
		t.Fatalf("expected fallback articles, got %d", len(f.Articles))
	}
}

func TestArticleLoaderWithFallbackPrefersPersistedState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := sampleNzb()
	f := n.Files[0]
	if err := s.SaveFileState(ctx, f); err != nil {
		t.Fatalf("SaveFileState: %v", err)
	}

	fallback := func(*queue.FileInfo) error {
		t.Fatal("fallback must not be invoked when persisted state exists")
		return nil
	}

	loader := s.ArticleLoaderWithFallback(fallback)
	reloaded := &queue.FileInfo{ID: f.ID}
	if err := loader(reloaded); err != nil {
		t.Fatalf("loader: %v", err)
	}
	if len(reloaded.Articles) != 2 {
		t.Fatalf("expected 2 persisted articles, got %d", len(reloaded.Articles))
	}
}

func TestDiscardFileRemovesPersistedArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := sampleNzb()
	f := n.Files[0]
	if err := s.SaveFileState(ctx, f); err != nil {
		t.Fatalf("SaveFileState: %v", err)
	}
	if err := s.DiscardFile(ctx, f.ID); err != nil {
		t.Fatalf("DiscardFile: %v", err)
	}

	reloaded := &queue.FileInfo{ID: f.ID}
	found, err := s.LoadFileState(ctx, reloaded)
	if err != nil {
		t.Fatalf("LoadFileState: %v", err)
	}
	if found {
		t.Fatal("expected no state after DiscardFile")
	}
}

func TestSaveAndLoadStatsRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats := statmeter.NewServerStats()
	stats.RecordSuccess("server-a")
	stats.RecordSuccess("server-a")
	stats.RecordFailure("server-b")

	if err := s.SaveStats(ctx, stats); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}

	loaded, err := s.LoadStats(ctx)
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}
	success, failed := loaded.Get("server-a")
	if success != 2 || failed != 0 {
		t.Fatalf("server-a: got success=%d failed=%d", success, failed)
	}
	_, failedB := loaded.Get("server-b")
	if failedB != 1 {
		t.Fatalf("server-b: got failed=%d, want 1", failedB)
	}
}

func TestSaveHistoryMovesNzbOutOfActiveQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := queue.New()
	n := sampleNzb()
	q.AddNzb(n, false)
	if !q.RemoveToHistory(n.ID) {
		t.Fatal("RemoveToHistory failed")
	}

	if err := s.SaveDownloadQueue(ctx, q); err != nil {
		t.Fatalf("SaveDownloadQueue: %v", err)
	}
	if err := s.SaveHistory(ctx, q.History()); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	activeQueue, err := s.LoadDownloadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadDownloadQueue: %v", err)
	}
	if len(activeQueue.All()) != 0 {
		t.Fatalf("expected empty active queue, got %d", len(activeQueue.All()))
	}

	history, err := s.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 1 || history[0].Nzb == nil || history[0].Nzb.ID != n.ID {
		t.Fatalf("expected 1 history nzb entry for %s, got %+v", n.ID, history)
	}
}

func TestLoadHistoryRoundTripsDupInfo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []queue.HistoryEntry{
		{Dup: &queue.DupInfo{ID: queue.NewID(), Filename: "dup.nzb", DupeKey: "dup", DupeScore: 5, Status: "SUCCESS"}},
	}
	if err := s.SaveHistory(ctx, entries); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	loaded, err := s.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Dup == nil {
		t.Fatalf("expected 1 dup history entry, got %+v", loaded)
	}
	if loaded[0].Dup.DupeScore != 5 || loaded[0].Dup.Status != "SUCCESS" {
		t.Fatalf("dup info mismatch: %+v", loaded[0].Dup)
	}
}

func TestCleanupTempDirRemovesOrphanedFragments(t *testing.T) {
	tmp := t.TempDir()

	q := queue.New()
	n := sampleNzb()
	q.AddNzb(n, false)
	keptID := n.Files[0].ID
	orphanID := queue.NewID()

	for _, name := range []string{
		keptID + ".output",
		orphanID + ".output",
		orphanID + ".1.tmp",
	} {
		writeEmptyFile(t, filepath.Join(tmp, name))
	}

	if err := CleanupTempDir(tmp, q); err != nil {
		t.Fatalf("CleanupTempDir: %v", err)
	}

	if !fileExists(filepath.Join(tmp, keptID+".output")) {
		t.Fatal("expected referenced fragment to survive cleanup")
	}
	if fileExists(filepath.Join(tmp, orphanID+".output")) || fileExists(filepath.Join(tmp, orphanID+".1.tmp")) {
		t.Fatal("expected orphaned fragments to be removed")
	}
}

package queue

import "testing"

func TestDedupFilesKeepsBiggestOnNameCollision(t *testing.T) {
	a := &FileInfo{ID: "a", Filename: "movie.mkv", Size: 100}
	b := &FileInfo{ID: "b", Filename: "movie.mkv", Size: 500}
	c := &FileInfo{ID: "c", Filename: "movie.nfo", Size: 10}

	got := DedupFiles([]*FileInfo{a, b, c})
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "b" {
		t.Fatalf("got[0].ID = %q, want b (the bigger of the two movie.mkv entries)", got[0].ID)
	}
	if got[1].ID != "c" {
		t.Fatalf("got[1].ID = %q, want c", got[1].ID)
	}
}

func TestDedupFilesTieKeepsEarliestIndex(t *testing.T) {
	a := &FileInfo{ID: "a", Filename: "same.bin", Size: 100}
	b := &FileInfo{ID: "b", Filename: "same.bin", Size: 100}

	got := DedupFiles([]*FileInfo{a, b})
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got = %+v, want only the first (a)", got)
	}
}

func TestDedupFilesNoCollisionsPassesThrough(t *testing.T) {
	a := &FileInfo{ID: "a", Filename: "one.bin", Size: 1}
	b := &FileInfo{ID: "b", Filename: "two.bin", Size: 2}

	got := DedupFiles([]*FileInfo{a, b})
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

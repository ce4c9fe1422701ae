package queue

import "testing"

func TestAddNzbDedupsFilesAndOrders(t *testing.T) {
	q := New()
	n1 := &NzbInfo{ID: "n1", Files: []*FileInfo{{ID: "f1", Filename: "x.bin", Size: 10}}}
	n2 := &NzbInfo{ID: "n2", Files: []*FileInfo{{ID: "f2", Filename: "y.bin", Size: 20}}}

	q.AddNzb(n1, false)
	q.AddNzb(n2, true) // addFirst

	all := q.All()
	if len(all) != 2 || all[0].ID != "n2" || all[1].ID != "n1" {
		t.Fatalf("All() = %+v, want [n2, n1]", all)
	}
}

func TestFindAndRemoveToHistory(t *testing.T) {
	q := New()
	n := &NzbInfo{ID: "n1"}
	q.AddNzb(n, false)

	if q.Find("n1") == nil {
		t.Fatal("Find(n1) = nil, want the NzbInfo")
	}
	if !q.RemoveToHistory("n1") {
		t.Fatal("RemoveToHistory(n1) = false, want true")
	}
	if q.Find("n1") != nil {
		t.Fatal("Find(n1) after removal = non-nil, want nil")
	}
	hist := q.History()
	if len(hist) != 1 || hist[0].Nzb == nil || hist[0].Nzb.ID != "n1" {
		t.Fatalf("History() = %+v, want one entry for n1", hist)
	}
}

func TestPurgeToDupInfoReplacesHistoryEntry(t *testing.T) {
	q := New()
	n := &NzbInfo{ID: "n1", Filename: "x.nzb", DupeKey: "k", ParStatus: ParSkipped, UnpackStatus: UnpackSkipped}
	q.AddNzb(n, false)
	q.RemoveToHistory("n1")

	if !q.PurgeToDupInfo("n1") {
		t.Fatal("PurgeToDupInfo(n1) = false, want true")
	}
	hist := q.History()
	if len(hist) != 1 || hist[0].Dup == nil || hist[0].Dup.ID != "n1" {
		t.Fatalf("History() = %+v, want a DupInfo for n1", hist)
	}
}

func TestEditPauseAndResume(t *testing.T) {
	q := New()
	f := &FileInfo{ID: "f1"}
	n := &NzbInfo{ID: "n1", Files: []*FileInfo{f}}
	q.AddNzb(n, false)

	if !q.Edit("n1", ActionPause, "") {
		t.Fatal("Edit(pause) = false")
	}
	if !f.Paused {
		t.Fatal("file not paused after ActionPause")
	}
	if !q.Edit("n1", ActionResume, "") {
		t.Fatal("Edit(resume) = false")
	}
	if f.Paused {
		t.Fatal("file still paused after ActionResume")
	}
}

func TestEditReprioritizeAndSetParameter(t *testing.T) {
	q := New()
	n := &NzbInfo{ID: "n1"}
	q.AddNzb(n, false)

	if !q.Edit("n1", ActionReprioritize, "900") {
		t.Fatal("Edit(reprioritize) = false")
	}
	if n.Priority != 900 {
		t.Fatalf("Priority = %d, want 900", n.Priority)
	}

	if !q.Edit("n1", ActionSetParameter, "*Unpack:=no") {
		t.Fatal("Edit(set_parameter) = false")
	}
	if n.Parameters["*Unpack:"] != "no" {
		t.Fatalf("Parameters = %+v, want *Unpack:=no", n.Parameters)
	}
}

func TestEditUnknownIDReturnsFalse(t *testing.T) {
	q := New()
	if q.Edit("missing", ActionPause, "") {
		t.Fatal("Edit on unknown id = true, want false")
	}
}

func TestMoveRepositionsWithinQueue(t *testing.T) {
	q := New()
	q.AddNzb(&NzbInfo{ID: "a"}, false)
	q.AddNzb(&NzbInfo{ID: "b"}, false)
	q.AddNzb(&NzbInfo{ID: "c"}, false)

	if !q.Edit("c", ActionMove, "-2") {
		t.Fatal("Edit(move) = false")
	}
	all := q.All()
	ids := []string{all[0].ID, all[1].ID, all[2].ID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestMoveToBottomReachesTheLastSlot(t *testing.T) {
	q := New()
	q.AddNzb(&NzbInfo{ID: "a"}, false)
	q.AddNzb(&NzbInfo{ID: "b"}, false)
	q.AddNzb(&NzbInfo{ID: "c"}, false)
	q.AddNzb(&NzbInfo{ID: "d"}, false)

	// An offset far beyond the queue's length clamps to "move to bottom";
	// the moved item must land in the actual last slot, not one short of it.
	if !q.Edit("a", ActionMove, "100") {
		t.Fatal("Edit(move) = false")
	}
	all := q.All()
	ids := []string{all[0].ID, all[1].ID, all[2].ID, all[3].ID}
	want := []string{"b", "c", "d", "a"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestMergeNzbsCombinesFilesAndRemovesSource(t *testing.T) {
	q := New()
	dest := &NzbInfo{ID: "dest", Files: []*FileInfo{{ID: "f1", Filename: "a.bin", Size: 10}}}
	src := &NzbInfo{ID: "src", Files: []*FileInfo{{ID: "f2", Filename: "b.bin", Size: 20}}}
	q.AddNzb(dest, false)
	q.AddNzb(src, false)

	if !q.MergeNzbs("dest", "src") {
		t.Fatal("MergeNzbs = false")
	}
	if q.Find("src") != nil {
		t.Fatal("source NzbInfo still present after merge")
	}
	if len(dest.Files) != 2 {
		t.Fatalf("dest.Files = %+v, want 2 entries", dest.Files)
	}
}

func TestSplitNzbMovesNamedFilesToNewNzb(t *testing.T) {
	q := New()
	f1 := &FileInfo{ID: "f1", Filename: "a.bin", Size: 10}
	f2 := &FileInfo{ID: "f2", Filename: "b.bin", Size: 20}
	n := &NzbInfo{ID: "n1", Files: []*FileInfo{f1, f2}}
	q.AddNzb(n, false)

	split := q.SplitNzb("n1", []string{"f2"}, "split-part")
	if split == nil {
		t.Fatal("SplitNzb = nil")
	}
	if len(n.Files) != 1 || n.Files[0].ID != "f1" {
		t.Fatalf("source Files = %+v, want only f1", n.Files)
	}
	if len(split.Files) != 1 || split.Files[0].ID != "f2" {
		t.Fatalf("split Files = %+v, want only f2", split.Files)
	}
	if q.Find(split.ID) == nil {
		t.Fatal("split NzbInfo not present in queue")
	}
}

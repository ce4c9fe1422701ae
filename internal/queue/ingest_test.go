package queue

import (
	"testing"

	"github.com/nzbgetd/nzbgetd/internal/nzbparse"
)

func TestNewNzbFromManifestBuildsFilesAndArticles(t *testing.T) {
	m := &nzbparse.Manifest{
		Files: []nzbparse.File{
			{
				Subject: `[1/2] - "release.part01.rar" yEnc (1/2)`,
				Date:    1700000000,
				Groups:  []string{"alt.binaries.test"},
				Segments: []nzbparse.Segment{
					{Number: 1, Bytes: 500, MessageID: "<a@test>"},
					{Number: 2, Bytes: 500, MessageID: "<b@test>"},
				},
			},
			{
				Subject: `[2/2] - "release.par2" yEnc (1/1)`,
				Date:    1700000000,
				Groups:  []string{"alt.binaries.test"},
				Segments: []nzbparse.Segment{
					{Number: 1, Bytes: 100, MessageID: "<c@test>"},
				},
			},
		},
	}

	n := NewNzbFromManifest(m, "release.nzb", "/downloads/release", "movies", 0)

	if len(n.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(n.Files))
	}
	if n.Files[0].Filename != "release.part01.rar" {
		t.Fatalf("expected quoted filename extracted, got %q", n.Files[0].Filename)
	}
	if len(n.Files[0].Articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(n.Files[0].Articles))
	}
	if !n.Files[0].ArticlesLoaded {
		t.Fatal("expected ArticlesLoaded=true for freshly ingested file")
	}
	if !n.Files[1].IsParFile {
		t.Fatal("expected .par2 file to be flagged IsParFile")
	}
	if n.Size != 1100 {
		t.Fatalf("expected total size 1100, got %d", n.Size)
	}
	if n.ParSize != 100 {
		t.Fatalf("expected par size 100, got %d", n.ParSize)
	}
	if n.Files[0].Groups[0] != "alt.binaries.test" {
		t.Fatalf("expected groups to round-trip, got %v", n.Files[0].Groups)
	}
}

func TestSubjectFilenameFallsBackToWholeSubjectWhenUnquoted(t *testing.T) {
	got := subjectFilename("release.file.rar (1/1)")
	if got != "release.file.rar (1/1)" {
		t.Fatalf("expected fallback to full subject, got %q", got)
	}
}

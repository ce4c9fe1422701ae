package queue

import (
	"regexp"
	"strings"

	"github.com/nzbgetd/nzbgetd/internal/nzbparse"
)

// subjectFilename extracts the quoted filename from an NZB subject line,
// e.g. `some.release [01/20] - "some.release.part01.rar" yEnc (1/123)`.
// Indexers vary in exact punctuation but universally quote the real
// filename; when no quoted segment is found the whole subject is used as a
// last resort so ingestion never rejects a file outright.
var subjectFilenameRe = regexp.MustCompile(`"([^"]+)"`)

func subjectFilename(subject string) string {
	if m := subjectFilenameRe.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	return strings.TrimSpace(subject)
}

func looksLikeParFile(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".par2")
}

// NewNzbFromManifest converts a parsed NZB manifest into a queue-ready
// NzbInfo (spec 4.7 add_nzb's upstream input): one FileInfo per <file>
// element, one ArticleInfo per <segment>, sizes seeded from the manifest's
// declared byte counts (not yet verified against actual article bodies).
// Dedup is NOT applied here -- that is Queue.AddNzb's job, re-run from
// scratch against current Filename fields every time it's invoked.
func NewNzbFromManifest(m *nzbparse.Manifest, filename, destDir, category string, priority int) *NzbInfo {
	n := &NzbInfo{
		ID:          NewID(),
		Filename:    filename,
		DisplayName: filename,
		DestDir:     destDir,
		Category:    category,
		Priority:    priority,
	}

	for _, mf := range m.Files {
		name := subjectFilename(mf.Subject)
		f := &FileInfo{
			ID:       NewID(),
			NZBID:    n.ID,
			Subject:  mf.Subject,
			Filename: name,
			Groups:   mf.Groups,
			Size:     mf.TotalSize(),
			Time:     mf.Date,

			IsParFile: looksLikeParFile(name),
		}
		f.RemainingSize = f.Size
		n.Size += f.Size
		if f.IsParFile {
			n.ParSize += f.Size
		}

		f.Articles = make([]*ArticleInfo, 0, len(mf.Segments))
		for _, seg := range mf.Segments {
			f.Articles = append(f.Articles, &ArticleInfo{
				PartNumber: seg.Number,
				MessageID:  seg.MessageID,
				Size:       seg.Bytes,
				Status:     ArticleUndefined,
			})
		}
		f.ArticlesLoaded = true

		n.Files = append(n.Files, f)
	}

	n.Recalc()
	return n
}

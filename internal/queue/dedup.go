package queue

// DedupFiles applies the "same filename, keep the biggest; on tie keep the
// earliest index" rule to a FileInfo slice. It is evaluated from scratch
// against each file's *current* Filename field every time it runs, rather
// than being cached from an earlier pass. Queue.AddNzb and Queue.MergeNzbs
// run it; it is not re-run when a file completes or when its filename is
// confirmed from an article body (FilenameConfirmed), so duplicates that
// only appear after such a rename stay in the queue.
func DedupFiles(files []*FileInfo) []*FileInfo {
	bestByName := make(map[string]int, len(files)) // name -> index into kept
	var kept []*FileInfo

	for _, f := range files {
		idx, seen := bestByName[f.Filename]
		if !seen {
			bestByName[f.Filename] = len(kept)
			kept = append(kept, f)
			continue
		}
		if f.Size > kept[idx].Size {
			kept[idx] = f
		}
		// tie or smaller: earliest index (already in kept) wins, drop f.
	}
	return kept
}

package api

import "github.com/nzbgetd/nzbgetd/internal/queue"

// QueueItem is the read-only JSON projection of one NzbInfo, grounded on
// the teacher's controllers/models.go DTO-shaping convention (plain structs
// with json tags, no direct exposure of internal mutexes/atomics).
type QueueItem struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	DisplayName   string `json:"display_name"`
	Category      string `json:"category"`
	Status        string `json:"status"`
	Size          int64  `json:"size"`
	RemainingSize int64  `json:"remaining_size"`
	SuccessSize   int64  `json:"success_size"`
	FailedSize    int64  `json:"failed_size"`
	FileCount     int    `json:"file_count"`
	HealthPaused  bool   `json:"health_paused"`
}

// HistoryItem is the read-only JSON projection of one terminal history
// entry (an NzbInfo or a DupInfo) from the Queue's history.
type HistoryItem struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	IsDup    bool   `json:"is_dup"`
}

func toQueueItem(n *queue.NzbInfo) QueueItem {
	return QueueItem{
		ID:            n.ID,
		Filename:      n.Filename,
		DisplayName:   n.DisplayName,
		Category:      n.Category,
		Status:        queue.TextStatus(n, false),
		Size:          n.Size,
		RemainingSize: n.RemainingSize,
		SuccessSize:   n.SuccessSize,
		FailedSize:    n.FailedSize,
		FileCount:     len(n.Files),
		HealthPaused:  n.HealthPaused,
	}
}

func toHistoryItem(h queue.HistoryEntry) HistoryItem {
	if h.Dup != nil {
		return HistoryItem{ID: h.Dup.ID, Filename: h.Dup.Filename, Status: h.Dup.Status, IsDup: true}
	}
	return HistoryItem{ID: h.Nzb.ID, Filename: h.Nzb.Filename, Status: queue.TextStatus(h.Nzb, false)}
}

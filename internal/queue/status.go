package queue

// TextStatus composes the small enum fields into the canonical status
// string a frontend or script environment would read (spec 7), grounded
// line-for-line on NZBInfo::MakeTextStatus's condition order: bad > good >
// delete > par-failure > unpack-failure > move-failure > par-warnings >
// health-failure > health-warning > health-success > ... The par/unpack
// branches are preserved for field-order fidelity even though this module
// never sets ParStatus/UnpackStatus itself (those stages are external
// collaborators per spec 1); a future par/unpack driver slots into the
// same ladder without reordering it.
func TextStatus(n *NzbInfo, scriptFailed bool) string {
	health := n.CalcHealth()
	criticalHealth := n.CalcCriticalHealth(false)

	switch {
	case n.MarkStatus == MarkBad:
		return "FAILURE/BAD"
	case n.MarkStatus == MarkGood:
		return "SUCCESS/GOOD"
	case n.DeleteStatus == DeleteHealth:
		return "FAILURE/HEALTH"
	case n.DeleteStatus == DeleteManual:
		return "DELETED/MANUAL"
	case n.DeleteStatus == DeleteDupe:
		return "DELETED/DUPE"
	case n.ParStatus == ParFailure:
		return "FAILURE/PAR"
	case n.UnpackStatus == UnpackFailure:
		return "FAILURE/UNPACK"
	case n.MoveStatus == MoveFailure:
		return "FAILURE/MOVE"
	case n.ParStatus == ParManual:
		return "WARNING/DAMAGED"
	case n.ParStatus == ParRepairPossible:
		return "WARNING/REPAIRABLE"
	case parSkippedOrNone(n) && unpackSkippedOrNone(n) && health < criticalHealth:
		return "FAILURE/HEALTH"
	case parSkippedOrNone(n) && unpackSkippedOrNone(n) && health < 1000 && health >= criticalHealth:
		return "WARNING/HEALTH"
	case parSkippedOrNone(n) && unpackSkippedOrNone(n) && !scriptFailed && health == 1000:
		return "SUCCESS/HEALTH"
	case n.UnpackStatus == UnpackSpace:
		return "FAILURE/SPACE"
	case scriptFailed:
		return "WARNING/SCRIPT"
	default:
		return "SUCCESS/ALL"
	}
}

func parSkippedOrNone(n *NzbInfo) bool {
	return n.ParStatus == ParNone || n.ParStatus == ParSkipped
}

func unpackSkippedOrNone(n *NzbInfo) bool {
	return n.UnpackStatus == UnpackNone || n.UnpackStatus == UnpackSkipped
}

// IsDupeSuccess mirrors NZBInfo::IsDupeSuccess: an NZB counts as a
// successful duplicate unless it was deleted, marked bad, failed par or
// unpack, or (when par/unpack were skipped) its health fell below the
// estimation-tolerant critical threshold.
func IsDupeSuccess(n *NzbInfo) bool {
	failure := n.DeleteStatus != DeleteNone ||
		n.MarkStatus == MarkBad ||
		n.ParStatus == ParFailure ||
		n.UnpackStatus == UnpackFailure ||
		(n.ParStatus == ParSkipped && n.UnpackStatus == UnpackSkipped &&
			n.CalcHealth() < n.CalcCriticalHealth(true))
	return !failure
}

package queue

// CalcHealth returns the fraction of non-par bytes successfully downloaded,
// scaled to 0..1000, grounded on NZBInfo::CalcHealth in the reference
// implementation.
func (n *NzbInfo) CalcHealth() int {
	if n.CurrentFailedSize == 0 || n.Size == n.ParSize {
		return 1000
	}

	health := int(float64(n.Size-n.ParSize-(n.CurrentFailedSize-n.ParCurrentFailedSize)) *
		1000.0 / float64(n.Size-n.ParSize))

	if health == 1000 && n.CurrentFailedSize-n.ParCurrentFailedSize > 0 {
		health = 999
	}
	return health
}

// CalcCriticalHealth returns the lower health bound below which repair is
// presumed impossible, scaled to 0..1000, grounded on
// NZBInfo::CalcCriticalHealth. When allowEstimation is true and the
// computed value would be a perfect 1000, it is clamped to the empirical
// 850 to avoid false alarms on downloads with renamed par files.
func (n *NzbInfo) CalcCriticalHealth(allowEstimation bool) int {
	if n.Size == 0 {
		return 1000
	}

	goodParSize := n.ParSize - n.ParCurrentFailedSize
	criticalHealth := int(float64(n.Size-goodParSize*2) * 1000.0 / float64(n.Size-goodParSize))

	switch {
	case goodParSize*2 > n.Size:
		criticalHealth = 0
	case criticalHealth == 1000 && n.ParSize > 0:
		criticalHealth = 999
	}

	if criticalHealth == 1000 && allowEstimation {
		criticalHealth = 850
	}
	return criticalHealth
}

// HealthCheckPolicy is the health_check configuration value (spec 6).
type HealthCheckPolicy int

const (
	HealthCheckNone HealthCheckPolicy = iota
	HealthCheckPause
	HealthCheckDelete
)

// HealthGuardResult reports what CheckHealth decided to do, so the caller
// can emit the matching edit/event without re-deriving the decision.
type HealthGuardResult int

const (
	HealthGuardNoAction HealthGuardResult = iota
	HealthGuardPaused
	HealthGuardDeleted
)

// CheckHealth implements QueueCoordinator::CheckHealth: skip entirely if
// health_check is disabled, the NZB is already health-paused or
// delete-marked, or health is still at or above critical (with estimation
// allowed); otherwise pause or delete per policy.
func CheckHealth(n *NzbInfo, policy HealthCheckPolicy) HealthGuardResult {
	if policy == HealthCheckNone ||
		n.HealthPaused ||
		n.DeleteStatus == DeleteHealth ||
		n.CalcHealth() >= n.CalcCriticalHealth(true) {
		return HealthGuardNoAction
	}

	switch policy {
	case HealthCheckPause:
		n.HealthPaused = true
		return HealthGuardPaused
	case HealthCheckDelete:
		n.DeleteStatus = DeleteHealth
		return HealthGuardDeleted
	default:
		return HealthGuardNoAction
	}
}

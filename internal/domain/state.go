package domain

// EngineState is the operator surface's belief about the remote engine.
type EngineState string

const (
	EngineIdle     EngineState = "idle"
	EngineStarting EngineState = "starting"
	EngineActive   EngineState = "active"
	EngineStopping EngineState = "stopping"
	EngineError    EngineState = "error"
)

// Busy reports whether a remote call is in flight.
func (s EngineState) Busy() bool {
	return s == EngineStarting || s == EngineStopping
}

// ScanState is the customer surface's body-capture progress.
type ScanState string

const (
	ScanAwaitingTutorial ScanState = "awaiting_tutorial"
	ScanCapturing        ScanState = "capturing"
	ScanComplete         ScanState = "complete"
)

// SurfaceRole identifies which side of the experience a bus peer is.
type SurfaceRole string

const (
	RoleOperator SurfaceRole = "operator"
	RoleCustomer SurfaceRole = "customer"
	RoleObserver SurfaceRole = "observer"
)

// ParseRole parses a role, defaulting to observer.
func ParseRole(s string) SurfaceRole {
	switch SurfaceRole(s) {
	case RoleOperator, RoleCustomer:
		return SurfaceRole(s)
	}
	return RoleObserver
}

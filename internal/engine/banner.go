package engine

import "github.com/ashureev/tryon-orchestrator/internal/domain"

// BannerKind selects how the operator banner is styled.
type BannerKind string

const (
	BannerIdle     BannerKind = "idle"
	BannerProgress BannerKind = "progress"
	BannerError    BannerKind = "error"
	BannerActive   BannerKind = "active"
)

// Banner is the operator-facing status line.
type Banner struct {
	Kind BannerKind `json:"kind"`
	Text string     `json:"text"`
}

// BannerFor derives the operator banner from a controller status.
func BannerFor(st Status) Banner {
	switch st.State {
	case domain.EngineStarting:
		return Banner{Kind: BannerProgress, Text: "Starting try-on engine..."}
	case domain.EngineStopping:
		return Banner{Kind: BannerProgress, Text: "Stopping try-on engine..."}
	case domain.EngineActive:
		return Banner{Kind: BannerActive, Text: "Try-on active"}
	case domain.EngineError:
		text := "Engine error. Retry."
		if st.Message != "" {
			text = st.Message + " Retry."
		}
		return Banner{Kind: BannerError, Text: text}
	}
	if st.Message != "" {
		return Banner{Kind: BannerIdle, Text: st.Message}
	}
	return Banner{Kind: BannerIdle, Text: "Engine stopped"}
}

package models

// TimelinePhase buckets how long the app has been installed
type TimelinePhase string

const (
	PhaseImmediate     TimelinePhase = "immediate"   // <= 10 minutes
	PhaseShortTerm     TimelinePhase = "short_term"  // <= 6 hours
	PhaseMediumTerm    TimelinePhase = "medium_term" // <= 48 hours
	PhaseEstablished   TimelinePhase = "established"
	PhaseNotApplicable TimelinePhase = "not_applicable"
)

// TimelineSignal is one weighted contribution to the dropper score
type TimelineSignal struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

// TimelineResult is the install-timeline dropper assessment for one app
type TimelineResult struct {
	PackageName    string           `json:"package_name"`
	Score          float64          `json:"score"`
	Phase          TimelinePhase    `json:"phase"`
	Signals        []TimelineSignal `json:"signals,omitempty"`
	IsFreshInstall bool             `json:"is_fresh_install"`

	IsDropperCandidate     bool `json:"is_dropper_candidate"`
	IsHighConfidenceDropper bool `json:"is_high_confidence_dropper"`
}

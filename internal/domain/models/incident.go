package models

import (
	"time"

	"github.com/google/uuid"
)

// SignalType identifies one atomic, cheap observation. Many signals are
// emitted per scan; they are the lowest level of the evidence pipeline.
type SignalType string

const (
	SignalCertChanged          SignalType = "cert_changed"
	SignalVersionRollback      SignalType = "version_rollback"
	SignalPermissionAdded      SignalType = "permission_added"
	SignalPermissionSetChanged SignalType = "permission_set_changed"
	SignalInstallerChanged     SignalType = "installer_changed"
	SignalPartitionChanged     SignalType = "partition_changed"
	SignalSurfaceIncreased     SignalType = "surface_increased"
	SignalNewSystemApp         SignalType = "new_system_app"
	SignalSideloadInstall      SignalType = "sideload_install"
	SignalSpecialAccessEnabled SignalType = "special_access_enabled"
	SignalCACertAdded          SignalType = "ca_cert_added"
	SignalConfigTampered       SignalType = "config_tampered"
	SignalDropperPattern       SignalType = "dropper_pattern"
	// Reserved for the future behavioral telemetry source
	SignalNetworkBurst SignalType = "network_burst"
)

// SecuritySignal is the atomic evidence unit
type SecuritySignal struct {
	Type        SignalType        `json:"type"`
	PackageName string            `json:"package_name,omitempty"`
	Severity    Severity          `json:"severity"`
	Message     string            `json:"message"`
	ObservedAt  time.Time         `json:"observed_at"`
	Details     map[string]string `json:"details,omitempty"`
}

// EventType identifies the aggregate meaning of a group of signals
type EventType string

const (
	EventCertChanged          EventType = "cert_changed"
	EventVersionRollback      EventType = "version_rollback"
	EventPermissionEscalation EventType = "permission_escalation"
	EventSideloadInstall      EventType = "sideload_install"
	EventSpecialAccessEnabled EventType = "special_access_enabled"
	EventConfigTampered       EventType = "config_tampered"
	EventNewCACert            EventType = "new_ca_cert"
	EventSurfaceIncreased     EventType = "surface_increased"
	EventNewSystemApp         EventType = "new_system_app"
	EventDropperPattern       EventType = "dropper_pattern"
	EventNetworkBurst         EventType = "network_burst"
)

// EventTypeForSignal maps a signal type to the event type it aggregates
// into
func EventTypeForSignal(t SignalType) EventType {
	switch t {
	case SignalCertChanged:
		return EventCertChanged
	case SignalVersionRollback:
		return EventVersionRollback
	case SignalPermissionAdded, SignalPermissionSetChanged:
		return EventPermissionEscalation
	case SignalInstallerChanged, SignalPartitionChanged, SignalSideloadInstall:
		return EventSideloadInstall
	case SignalSurfaceIncreased:
		return EventSurfaceIncreased
	case SignalNewSystemApp:
		return EventNewSystemApp
	case SignalSpecialAccessEnabled:
		return EventSpecialAccessEnabled
	case SignalCACertAdded:
		return EventNewCACert
	case SignalConfigTampered:
		return EventConfigTampered
	case SignalDropperPattern:
		return EventDropperPattern
	case SignalNetworkBurst:
		return EventNetworkBurst
	}
	return EventConfigTampered
}

// SecurityEvent groups signals of one aggregate meaning for one package
// inside a time window
type SecurityEvent struct {
	ID          uuid.UUID        `json:"id"`
	Type        EventType        `json:"type"`
	PackageName string           `json:"package_name,omitempty"`
	Severity    Severity         `json:"severity"`
	Summary     string           `json:"summary"`
	Signals     []SecuritySignal `json:"signals,omitempty"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Promoted    bool             `json:"promoted"`
}

// IncidentStatus is the incident lifecycle state
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentDismissed     IncidentStatus = "dismissed"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// incidentTransitions encodes the status machine:
// open -> investigating -> {resolved | dismissed | false_positive}.
// Terminal states have no outgoing transitions.
var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentOpen:          {IncidentInvestigating, IncidentResolved, IncidentDismissed, IncidentFalsePositive},
	IncidentInvestigating: {IncidentResolved, IncidentDismissed, IncidentFalsePositive},
}

// CanTransitionTo reports whether the status machine permits the move
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range incidentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transitions leave this status
func (s IncidentStatus) IsTerminal() bool {
	return len(incidentTransitions[s]) == 0
}

// Valid reports whether s is a known lifecycle status
func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentOpen, IncidentInvestigating, IncidentResolved, IncidentDismissed, IncidentFalsePositive:
		return true
	}
	return false
}

// Hypothesis is one candidate root-cause explanation with clamped
// confidence
type Hypothesis struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	Confidence            float64  `json:"confidence"`
	SupportingEvidence    []string `json:"supporting_evidence,omitempty"`
	ContradictingEvidence []string `json:"contradicting_evidence,omitempty"`
}

// ActionType identifies one recommended remediation
type ActionType string

const (
	ActionUninstall           ActionType = "uninstall"
	ActionRevokeSpecialAccess ActionType = "revoke_special_access"
	ActionCheckSettings       ActionType = "check_settings"
	ActionMonitor             ActionType = "monitor"
)

// RecommendedAction is one remediation step, lower priority number first
type RecommendedAction struct {
	Type        ActionType `json:"type"`
	Priority    int        `json:"priority"`
	Description string     `json:"description"`
}

// SecurityIncident is the top aggregation level: one resolved event with
// ranked hypotheses and recommended actions
type SecurityIncident struct {
	ID          uuid.UUID `json:"id"`
	EventID     uuid.UUID `json:"event_id"`
	PackageName string    `json:"package_name,omitempty"`

	Title    string         `json:"title"`
	Summary  string         `json:"summary"`
	Severity Severity       `json:"severity"`
	Status   IncidentStatus `json:"status"`

	Hypotheses          []Hypothesis        `json:"hypotheses,omitempty"`
	Actions             []RecommendedAction `json:"actions"`
	CorroboratingEvents int                 `json:"corroborating_events"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TopHypothesis returns the highest-confidence hypothesis, nil when none
func (i *SecurityIncident) TopHypothesis() *Hypothesis {
	if len(i.Hypotheses) == 0 {
		return nil
	}
	return &i.Hypotheses[0]
}

// Transition moves the incident to the next status, enforcing the machine
func (i *SecurityIncident) Transition(next IncidentStatus, now time.Time) error {
	if !i.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: i.Status, To: next}
	}
	i.Status = next
	i.UpdatedAt = now
	return nil
}

// InvalidTransitionError reports a forbidden incident status move
type InvalidTransitionError struct {
	From IncidentStatus
	To   IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return "invalid incident transition from " + string(e.From) + " to " + string(e.To)
}

// AppFeatureVector is the per-app knowledge snapshot the resolver and
// timeline analyzer consume
type AppFeatureVector struct {
	PackageName string `json:"package_name"`

	TrustScore    int           `json:"trust_score"`
	TrustLevel    TrustLevel    `json:"trust_level"`
	InstallerType InstallerType `json:"installer_type"`
	Category      AppCategory   `json:"category"`

	IsNewApp    bool      `json:"is_new_app"`
	InstalledAt time.Time `json:"installed_at,omitempty"`

	ActiveClusters []ClusterID      `json:"active_clusters,omitempty"`
	SpecialAccess  AppSpecialAccess `json:"special_access"`

	HasBootReceiver      bool `json:"has_boot_receiver"`
	UsesDynamicCodeLoading bool `json:"uses_dynamic_code_loading"`
	IsDebugSigned        bool `json:"is_debug_signed"`
}

// HasCluster reports whether the cluster is active for the app
func (v AppFeatureVector) HasCluster(id ClusterID) bool {
	for _, c := range v.ActiveClusters {
		if c == id {
			return true
		}
	}
	return false
}

package custody

import (
	"strings"
	"time"
)

// Stage represents the lifecycle position of a workflow instance.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageIntake           Stage = "intake"
	StageVerification     Stage = "verification"
	StageAnalysis         Stage = "analysis"
	StageCollaboration    Stage = "collaboration"
	StageCustodyTransfer  Stage = "custody_transfer"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageFinalization     Stage = "finalization"
	StageError            Stage = "error"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
	StageRejected         Stage = "rejected"
	StageCancelled        Stage = "cancelled"
)

var allStages = []Stage{
	StageIdle,
	StageIntake,
	StageVerification,
	StageAnalysis,
	StageCollaboration,
	StageCustodyTransfer,
	StageAwaitingApproval,
	StageFinalization,
	StageError,
	StageCompleted,
	StageFailed,
	StageRejected,
	StageCancelled,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

var terminalStages = map[Stage]struct{}{
	StageCompleted: {},
	StageFailed:    {},
	StageRejected:  {},
	StageCancelled: {},
}

// stageProgress maps each stage to the progress percentage assigned on entry.
// Progress is monotonic within one run; a stage retry re-enters at the same value.
var stageProgress = map[Stage]int{
	StageIdle:             0,
	StageIntake:           10,
	StageVerification:     30,
	StageAnalysis:         50,
	StageCollaboration:    65,
	StageCustodyTransfer:  70,
	StageAwaitingApproval: 80,
	StageFinalization:     90,
	StageCompleted:        100,
	StageFailed:           100,
	StageRejected:         100,
	StageCancelled:        100,
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsTerminalStage reports whether a stage ends the instance lifecycle.
func IsTerminalStage(stage Stage) bool {
	_, ok := terminalStages[stage]
	return ok
}

// ProgressFor returns the progress percentage assigned when entering a stage.
// The error stage carries no entry value; callers keep the prior percentage.
func ProgressFor(stage Stage) (int, bool) {
	value, ok := stageProgress[stage]
	return value, ok
}

// IntegrityStatus is the engine's current verdict on evidence trustworthiness.
type IntegrityStatus string

const (
	IntegrityPending           IntegrityStatus = "pending"
	IntegrityVerified          IntegrityStatus = "verified"
	IntegrityCompromised       IntegrityStatus = "compromised"
	IntegrityRequiresAttention IntegrityStatus = "requires_attention"
)

// ApprovalStatus tracks the human decision gate. Empty means no gate was entered.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// EventType identifies the workflow stage an audit event records.
type EventType string

const (
	EventIntake       EventType = "intake"
	EventVerification EventType = "verification"
	EventAnalysis     EventType = "analysis"
	EventTransfer     EventType = "transfer"
	EventApproval     EventType = "approval"
	EventFinalization EventType = "finalization"
)

// EvidenceRecord is the authoritative evidence snapshot fetched at intake.
type EvidenceRecord struct {
	ID            string            `json:"id"`
	CaseID        string            `json:"case_id"`
	Title         string            `json:"title"`
	MediaType     string            `json:"media_type"`
	SizeBytes     int64             `json:"size_bytes"`
	StorageURI    string            `json:"storage_uri"`
	ContentDigest string            `json:"content_digest"`
	CollectedAt   time.Time         `json:"collected_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// VerificationResult captures the outcome of the integrity checks.
// AIConfidence is nil when the advisory scoring service was unavailable.
type VerificationResult struct {
	HashMatch      bool     `json:"hash_match"`
	MetadataIntact bool     `json:"metadata_intact"`
	TimestampValid bool     `json:"timestamp_valid"`
	SignatureValid bool     `json:"signature_valid"`
	AIConfidence   *float64 `json:"ai_confidence,omitempty"`
	RiskLabel      string   `json:"risk_label,omitempty"`
}

// AnalysisResult captures the multi-factor content analysis. Scores are 0-1.
type AnalysisResult struct {
	AuthenticityScore float64  `json:"authenticity_score"`
	CompletenessScore float64  `json:"completeness_score"`
	RelevanceScore    float64  `json:"relevance_score"`
	RiskScore         float64  `json:"risk_score"`
	RiskLevel         string   `json:"risk_level"`
	Recommendations   []string `json:"recommendations,omitempty"`
	Anomalies         []string `json:"anomalies,omitempty"`
}

// Participant is one active reviewer in a collaboration session.
type Participant struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Annotation is one reviewer note anchored to a position in the evidence.
type Annotation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Position  string    `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one chat entry in a collaboration session.
type Message struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// CollaborationState is the serializable snapshot of a session.
type CollaborationState struct {
	SessionID    string        `json:"session_id"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	Participants []Participant `json:"participants,omitempty"`
	Annotations  []Annotation  `json:"annotations,omitempty"`
	Messages     []Message     `json:"messages,omitempty"`
}

// Instance is one evidence item under custody review. Identifiers set at
// creation are immutable; Events is append-only for the instance lifetime.
type Instance struct {
	ID          string `json:"id"`
	EvidenceID  string `json:"evidence_id"`
	CaseID      string `json:"case_id"`
	InitiatedBy string `json:"initiated_by"`

	CurrentCustodian  string `json:"current_custodian"`
	PreviousCustodian string `json:"previous_custodian,omitempty"`

	// OriginalFingerprint is the fingerprint the caller expected at start.
	// Every integrity pass compares the recomputed fingerprint against it.
	OriginalFingerprint string `json:"original_fingerprint"`
	CurrentFingerprint  string `json:"current_fingerprint,omitempty"`

	IntegrityStatus IntegrityStatus     `json:"integrity_status"`
	Verification    *VerificationResult `json:"verification,omitempty"`
	Analysis        *AnalysisResult     `json:"analysis,omitempty"`
	Evidence        *EvidenceRecord     `json:"evidence,omitempty"`

	Collaboration CollaborationState `json:"collaboration"`

	Stage            Stage          `json:"stage"`
	FailedStage      Stage          `json:"failed_stage,omitempty"`
	Progress         int            `json:"progress"`
	RequiresApproval bool           `json:"requires_approval"`
	ApprovalStatus   ApprovalStatus `json:"approval_status,omitempty"`

	Events []Event `json:"events,omitempty"`

	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StageDurations map[Stage]int64 `json:"stage_durations_ms,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	ForceCompleted bool            `json:"force_completed,omitempty"`

	ErrorMessage string   `json:"error_message,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// IsTerminal reports whether the instance reached a terminal stage.
func (i *Instance) IsTerminal() bool {
	return IsTerminalStage(i.Stage)
}

// IsActive reports whether the instance still accepts commands.
func (i *Instance) IsActive() bool {
	return !i.IsTerminal()
}

// EnterStage moves the instance to a stage and assigns its progress value,
// keeping progress monotonic within the run.
func (i *Instance) EnterStage(stage Stage, now time.Time) {
	i.Stage = stage
	if value, ok := ProgressFor(stage); ok && value > i.Progress {
		i.Progress = value
	}
	i.UpdatedAt = now.UTC()
}

// RecordDuration accumulates elapsed time for a stage.
func (i *Instance) RecordDuration(stage Stage, elapsed time.Duration) {
	if i.StageDurations == nil {
		i.StageDurations = make(map[Stage]int64)
	}
	i.StageDurations[stage] += elapsed.Milliseconds()
}

// SetError records a stage failure and routes the instance to the error stage.
func (i *Instance) SetError(failed Stage, message string, now time.Time) {
	i.FailedStage = failed
	i.ErrorMessage = message
	i.Stage = StageError
	i.UpdatedAt = now.UTC()
}

// ClearError resets the failure message before a retry. Warnings stay until
// the retry actually succeeds; a failed attempt keeps the prior diagnostics.
func (i *Instance) ClearError() {
	i.ErrorMessage = ""
}

// AddWarning appends a non-fatal diagnostic message.
func (i *Instance) AddWarning(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	i.Warnings = append(i.Warnings, message)
}

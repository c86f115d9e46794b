package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodia/internal/audit"
	"custodia/internal/collab"
	"custodia/internal/config"
	"custodia/internal/custody"
	"custodia/internal/logging"
	"custodia/internal/notifications"
	"custodia/internal/services"
	"custodia/internal/services/evidence"
	"custodia/internal/services/inference"
	"custodia/internal/services/verifier"
	"custodia/internal/signing"
)

// Engine owns the custody workflow instances of one process. Each instance is
// wrapped in a Workflow handle that serializes commands against it.
type Engine struct {
	cfg      *config.Config
	store    *audit.Store
	signer   signing.Signer
	evidence EvidenceRepository
	verifier IntegrityVerifier
	analyzer Analyzer
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	workflows map[string]*Workflow
}

// Option customizes engine construction, mainly for swapping adapters in tests.
type Option func(*Engine)

// WithEvidenceRepository overrides the evidence adapter.
func WithEvidenceRepository(repo EvidenceRepository) Option {
	return func(e *Engine) { e.evidence = repo }
}

// WithVerifier overrides the integrity verification adapter.
func WithVerifier(v IntegrityVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithAnalyzer overrides the content analysis adapter. Passing nil disables
// automated analysis.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithSigner overrides the event signer.
func WithSigner(s signing.Signer) Option {
	return func(e *Engine) {
		if s != nil {
			e.signer = s
		}
	}
}

// WithNotifier overrides the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the engine clock (used in tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine wired to the configured adapters. The signing secret
// is required; the inference adapter is attached only when enabled.
func New(cfg *config.Config, store *audit.Store, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}

	signer, err := signing.NewHMACSigner(cfg.Engine.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		signer:    signer,
		notifier:  notifications.NewService(cfg),
		logger:    logging.NewNop(),
		now:       time.Now,
		workflows: make(map[string]*Workflow),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.evidence == nil {
		e.evidence = evidence.NewClient(evidence.Config{
			BaseURL:        cfg.Evidence.BaseURL,
			APIToken:       cfg.Evidence.APIToken,
			TimeoutSeconds: cfg.Evidence.TimeoutSeconds,
		})
	}

	var scorer verifier.Scorer
	if e.analyzer == nil && cfg.Inference.Enabled {
		client := inference.NewClient(inference.Config{
			BaseURL:        cfg.Inference.BaseURL,
			APIKey:         cfg.Inference.APIKey,
			Model:          cfg.Inference.Model,
			TimeoutSeconds: cfg.Inference.TimeoutSeconds,
		})
		e.analyzer = client
		scorer = client
	}
	if e.verifier == nil {
		if s, ok := e.analyzer.(verifier.Scorer); ok && scorer == nil {
			scorer = s
		}
		e.verifier = verifier.New(scorer, e.logger, verifier.WithClock(e.now))
	}

	e.logger = logging.NewComponentLogger(e.logger, "engine")
	return e, nil
}

// Start creates a new workflow instance for an evidence item and runs the
// automated pipeline through to the collaboration stage. The caller supplies
// the fingerprint it expects the evidence to carry; intake and every later
// verification pass compare against that baseline, so tampering that happened
// before the workflow began is still caught. Stage failures do not surface as
// errors here; they park the instance in the error stage with the failure
// recorded for retry.
func (e *Engine) Start(ctx context.Context, evidenceID, caseID, initiatedBy, expectedFingerprint string) (*Workflow, error) {
	evidenceID = strings.TrimSpace(evidenceID)
	initiatedBy = strings.TrimSpace(initiatedBy)
	expectedFingerprint = strings.TrimSpace(expectedFingerprint)
	if evidenceID == "" {
		return nil, services.Wrap(services.ErrValidation, "intake", "start", "evidence id must not be empty", nil)
	}
	if initiatedBy == "" {
		return nil, services.Wrap(services.ErrValidation, "intake", "start", "initiating user id must not be empty", nil)
	}
	if expectedFingerprint == "" {
		return nil, services.Wrap(services.ErrValidation, "intake", "start", "expected fingerprint must not be empty", nil)
	}

	now := e.now().UTC()
	inst := &custody.Instance{
		ID:                  uuid.NewString(),
		EvidenceID:          evidenceID,
		CaseID:              strings.TrimSpace(caseID),
		InitiatedBy:         initiatedBy,
		CurrentCustodian:    initiatedBy,
		OriginalFingerprint: expectedFingerprint,
		IntegrityStatus:     custody.IntegrityPending,
		Stage:               custody.StageIdle,
		StartedAt:           now,
		UpdatedAt:           now,
		MaxRetries:          e.maxRetries(),
	}

	wf := e.register(inst)

	wf.mu.Lock()
	defer wf.mu.Unlock()

	if err := e.persist(ctx, inst); err != nil {
		return nil, err
	}

	e.logger.Info("workflow started",
		logging.String(logging.FieldWorkflowID, inst.ID),
		logging.String(logging.FieldEvidenceID, inst.EvidenceID))
	if err := e.notifier.NotifyWorkflowStarted(ctx, inst.EvidenceID, inst.CaseID); err != nil {
		e.logger.Warn("workflow start notification failed", logging.Error(err))
	}

	e.runPipeline(ctx, wf, custody.StageIntake, inst.InitiatedBy)
	return wf, nil
}

// Resume loads a persisted workflow instance and wraps it in a handle. It
// returns services.ErrNotFound when no such workflow exists.
func (e *Engine) Resume(ctx context.Context, workflowID string) (*Workflow, error) {
	e.mu.Lock()
	if wf, ok := e.workflows[workflowID]; ok {
		e.mu.Unlock()
		return wf, nil
	}
	e.mu.Unlock()

	inst, err := e.store.GetInstance(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "resume", fmt.Sprintf("workflow %s does not exist", workflowID), nil)
	}
	return e.register(inst), nil
}

// FindByEvidence resumes the most recent workflow for an evidence item.
func (e *Engine) FindByEvidence(ctx context.Context, evidenceID string) (*Workflow, error) {
	inst, err := e.store.FindByEvidence(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "resume", fmt.Sprintf("no workflow for evidence %s", evidenceID), nil)
	}
	e.mu.Lock()
	if wf, ok := e.workflows[inst.ID]; ok {
		e.mu.Unlock()
		return wf, nil
	}
	e.mu.Unlock()
	return e.register(inst), nil
}

// Store exposes the audit store for read-side consumers.
func (e *Engine) Store() *audit.Store {
	return e.store
}

// Signer exposes the event signer for audit verification.
func (e *Engine) Signer() signing.Signer {
	return e.signer
}

func (e *Engine) register(inst *custody.Instance) *Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	if wf, ok := e.workflows[inst.ID]; ok {
		return wf
	}
	wf := &Workflow{
		engine:  e,
		inst:    inst,
		session: collab.Restore(inst.Collaboration),
	}
	e.workflows[inst.ID] = wf
	return wf
}

func (e *Engine) maxRetries() int {
	if e.cfg.Engine.MaxRetries > 0 {
		return e.cfg.Engine.MaxRetries
	}
	return 3
}

func (e *Engine) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(e.cfg.Engine.AdapterTimeoutSeconds) * time.Second
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *Engine) persist(ctx context.Context, inst *custody.Instance) error {
	return e.store.SaveInstance(ctx, inst)
}

func (e *Engine) appendEvent(inst *custody.Instance, eventType custody.EventType, actorID string, details any) error {
	payload, err := marshalDetails(details)
	if err != nil {
		return err
	}
	event := custody.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: e.now().UTC(),
		ActorID:   actorID,
		Details:   payload,
	}
	if err := signing.SignEvent(e.signer, &event); err != nil {
		return err
	}
	inst.Events = append(inst.Events, event)
	return nil
}

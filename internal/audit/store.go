package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"custodia/internal/config"
	"custodia/internal/custody"
)

// Store persists workflow instances, their append-only custody event chains,
// and finalized reports in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the custody database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "custody.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// SaveInstance upserts the workflow snapshot and appends any new custody
// events. The event chain is append-only: shrinking or rewriting persisted
// events is rejected.
func (s *Store) SaveInstance(ctx context.Context, inst *custody.Instance) error {
	if inst == nil {
		return errors.New("instance is nil")
	}
	ctx = ensureContext(ctx)

	snapshot, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance snapshot: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflows (
                id, evidence_id, case_id, stage, integrity_status, approval_status,
                progress, requires_approval, retry_count, error_message,
                current_custodian, snapshot_json, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                stage = excluded.stage,
                integrity_status = excluded.integrity_status,
                approval_status = excluded.approval_status,
                progress = excluded.progress,
                requires_approval = excluded.requires_approval,
                retry_count = excluded.retry_count,
                error_message = excluded.error_message,
                current_custodian = excluded.current_custodian,
                snapshot_json = excluded.snapshot_json,
                updated_at = excluded.updated_at`,
			inst.ID,
			inst.EvidenceID,
			inst.CaseID,
			string(inst.Stage),
			string(inst.IntegrityStatus),
			nullableString(string(inst.ApprovalStatus)),
			inst.Progress,
			boolToInt(inst.RequiresApproval),
			inst.RetryCount,
			nullableString(inst.ErrorMessage),
			nullableString(inst.CurrentCustodian),
			string(snapshot),
			inst.StartedAt.UTC().Format(time.RFC3339Nano),
			now,
		)
		if err != nil {
			return fmt.Errorf("upsert workflow: %w", err)
		}

		var persisted int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM custody_events WHERE workflow_id = ?`, inst.ID,
		).Scan(&persisted); err != nil {
			return fmt.Errorf("count persisted events: %w", err)
		}
		if len(inst.Events) < persisted {
			return fmt.Errorf("audit trail for %s cannot shrink: have %d persisted events, instance carries %d",
				inst.ID, persisted, len(inst.Events))
		}

		for seq := persisted; seq < len(inst.Events); seq++ {
			event := inst.Events[seq]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO custody_events (
                    workflow_id, seq, event_id, event_type, timestamp,
                    actor_id, details_json, signature
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				inst.ID,
				seq,
				event.ID,
				string(event.Type),
				event.Timestamp.UTC().Format(time.RFC3339Nano),
				event.ActorID,
				string(event.Details),
				event.Signature,
			)
			if err != nil {
				return fmt.Errorf("append event %d: %w", seq, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit save tx: %w", err)
		}
		return nil
	})
}

// GetInstance fetches a workflow snapshot by identifier. It returns nil when
// the workflow does not exist.
func (s *Store) GetInstance(ctx context.Context, id string) (*custody.Instance, error) {
	ctx = ensureContext(ctx)
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM workflows WHERE id = ?`, id,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var inst custody.Instance
	if err := json.Unmarshal([]byte(snapshot), &inst); err != nil {
		return nil, fmt.Errorf("decode workflow snapshot: %w", err)
	}
	return &inst, nil
}

// FindByEvidence returns the most recent workflow for an evidence item.
func (s *Store) FindByEvidence(ctx context.Context, evidenceID string) (*custody.Instance, error) {
	ctx = ensureContext(ctx)
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM workflows WHERE evidence_id = ? ORDER BY created_at DESC LIMIT 1`,
		evidenceID,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find workflow by evidence: %w", err)
	}

	var inst custody.Instance
	if err := json.Unmarshal([]byte(snapshot), &inst); err != nil {
		return nil, fmt.Errorf("decode workflow snapshot: %w", err)
	}
	return &inst, nil
}

// Summary is the listing row for one workflow.
type Summary struct {
	ID               string
	EvidenceID       string
	CaseID           string
	Stage            custody.Stage
	IntegrityStatus  custody.IntegrityStatus
	ApprovalStatus   custody.ApprovalStatus
	Progress         int
	RequiresApproval bool
	RetryCount       int
	ErrorMessage     string
	CurrentCustodian string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// List returns workflow summaries filtered by stage (or all workflows when
// no stage is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, stages ...custody.Stage) ([]Summary, error) {
	ctx = ensureContext(ctx)

	baseQuery := `SELECT id, evidence_id, case_id, stage, integrity_status, approval_status,
        progress, requires_approval, retry_count, error_message, current_custodian,
        created_at, updated_at FROM workflows`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = string(stage)
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE stage IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			summary          Summary
			approval         sql.NullString
			errorMessage     sql.NullString
			currentCustodian sql.NullString
			requiresApproval int
			createdRaw       string
			updatedRaw       string
			stage            string
			integrity        string
		)
		if err := rows.Scan(
			&summary.ID,
			&summary.EvidenceID,
			&summary.CaseID,
			&stage,
			&integrity,
			&approval,
			&summary.Progress,
			&requiresApproval,
			&summary.RetryCount,
			&errorMessage,
			&currentCustodian,
			&createdRaw,
			&updatedRaw,
		); err != nil {
			return nil, fmt.Errorf("scan workflow summary: %w", err)
		}
		summary.Stage = custody.Stage(stage)
		summary.IntegrityStatus = custody.IntegrityStatus(integrity)
		summary.ApprovalStatus = custody.ApprovalStatus(approval.String)
		summary.RequiresApproval = requiresApproval != 0
		summary.ErrorMessage = errorMessage.String
		summary.CurrentCustodian = currentCustodian.String
		if created, err := parseTimeString(createdRaw); err == nil {
			summary.CreatedAt = created
		}
		if updated, err := parseTimeString(updatedRaw); err == nil {
			summary.UpdatedAt = updated
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// Events returns the persisted custody event chain for a workflow in causal order.
func (s *Store) Events(ctx context.Context, workflowID string) ([]custody.Event, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type, timestamp, actor_id, details_json, signature
         FROM custody_events WHERE workflow_id = ? ORDER BY seq`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query custody events: %w", err)
	}
	defer rows.Close()

	var events []custody.Event
	for rows.Next() {
		var (
			event        custody.Event
			eventType    string
			timestampRaw string
			details      string
		)
		if err := rows.Scan(&event.ID, &eventType, &timestampRaw, &event.ActorID, &details, &event.Signature); err != nil {
			return nil, fmt.Errorf("scan custody event: %w", err)
		}
		event.Type = custody.EventType(eventType)
		event.Details = json.RawMessage(details)
		if timestamp, err := parseTimeString(timestampRaw); err == nil {
			event.Timestamp = timestamp
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SaveReport persists the finalized report JSON for a workflow.
func (s *Store) SaveReport(ctx context.Context, workflowID string, report []byte) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO custody_reports (workflow_id, report_json, created_at)
             VALUES (?, ?, ?)
             ON CONFLICT(workflow_id) DO UPDATE SET report_json = excluded.report_json`,
			workflowID,
			string(report),
			time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		return nil
	})
}

// GetReport returns the persisted report JSON, or nil when none exists.
func (s *Store) GetReport(ctx context.Context, workflowID string) ([]byte, error) {
	ctx = ensureContext(ctx)
	var report string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json FROM custody_reports WHERE workflow_id = ?`, workflowID,
	).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return []byte(report), nil
}

// Stats returns a count of workflows grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[custody.Stage]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM workflows GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("workflow stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[custody.Stage]int)
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[custody.Stage(stage)] = count
	}
	return stats, rows.Err()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/practiq/automation/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflow definitions ---

func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	triggerCfg, err := json.Marshal(def.TriggerConfig)
	if err != nil {
		return fmt.Errorf("marshal trigger_config: %w", err)
	}
	criteria, err := nullableJSONValue(def.EntryCriteria)
	if err != nil {
		return fmt.Errorf("marshal entry_criteria: %w", err)
	}
	matchMode := def.EntryMatchMode
	if matchMode == "" {
		matchMode = schema.MatchAll
	}
	reentry := def.ReentryMode
	if reentry == "" {
		reentry = schema.ReentryAllowAll
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, name, object_type, trigger_type, trigger_config, entry_criteria, entry_match_mode, reentry_mode, reentry_wait_days, active, evaluation_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, nullStr(def.Name), def.ObjectType, string(def.TriggerType), string(triggerCfg), criteria,
		string(matchMode), string(reentry), def.ReentryWaitDays, boolInt(def.Active), def.EvaluationOrder,
		timeOrNow(def.CreatedAt), timeOrNow(def.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}

	for i, step := range def.Steps {
		cond, err := nullableJSONValue(step.Condition)
		if err != nil {
			return fmt.Errorf("marshal step %s condition: %w", step.Key, err)
		}
		branches, err := nullableJSONValue(step.Branches)
		if err != nil {
			return fmt.Errorf("marshal step %s branches: %w", step.Key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflow_steps (workflow_id, step_key, kind, config, condition, branches, next_step_key, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			def.ID, step.Key, string(step.Kind), nullRaw(step.Config), cond, branches, nullStr(step.NextStepKey), i,
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", step.Key, err)
		}
	}

	return tx.Commit()
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, object_type, trigger_type, trigger_config, entry_criteria, entry_match_mode, reentry_mode, reentry_wait_days, active, evaluation_order, created_at, updated_at
		 FROM workflow_definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow definition", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	query := `SELECT id, name, object_type, trigger_type, trigger_config, entry_criteria, entry_match_mode, reentry_mode, reentry_wait_days, active, evaluation_order, created_at, updated_at
	 FROM workflow_definitions`
	var where []string
	var args []any
	if filter.ObjectType != "" {
		where = append(where, "object_type = ?")
		args = append(args, filter.ObjectType)
	}
	if filter.TriggerType != nil {
		where = append(where, "trigger_type = ?")
		args = append(args, string(*filter.TriggerType))
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolInt(*filter.Active))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY evaluation_order ASC, created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := s.loadSteps(ctx, def); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (s *LibSQLStore) SetDefinitionActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolInt(active), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow definition", id)
}

func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow definition", id)
}

// loadSteps populates a definition's steps, ordered by declaration position.
func (s *LibSQLStore) loadSteps(ctx context.Context, def *schema.WorkflowDefinition) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_key, kind, config, condition, branches, next_step_key
		 FROM workflow_steps WHERE workflow_id = ? ORDER BY position ASC`, def.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		step := &schema.WorkflowStep{}
		var kind string
		var config, cond, branches, next sql.NullString
		if err := rows.Scan(&step.Key, &kind, &config, &cond, &branches, &next); err != nil {
			return err
		}
		step.Kind = schema.StepKind(kind)
		step.Config = rawOrNil(config)
		step.NextStepKey = next.String
		if cond.Valid && cond.String != "" {
			var c schema.Condition
			if err := json.Unmarshal([]byte(cond.String), &c); err != nil {
				return fmt.Errorf("unmarshal step %s condition: %w", step.Key, err)
			}
			step.Condition = &c
		}
		if branches.Valid && branches.String != "" {
			if err := json.Unmarshal([]byte(branches.String), &step.Branches); err != nil {
				return fmt.Errorf("unmarshal step %s branches: %w", step.Key, err)
			}
		}
		def.Steps = append(def.Steps, step)
	}
	return rows.Err()
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	execCtx, err := nullableJSONValue(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, record_type, record_id, status, current_step_key, context, error_message, step_count, started_at, completed_at, next_run_at, waiting_for, claimed_by, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.RecordType, exec.RecordID, string(exec.Status),
		exec.CurrentStepKey, execCtx, nullStr(exec.ErrorMessage), exec.StepCount,
		timeOrNow(exec.StartedAt), nullTime(exec.CompletedAt), nullTime(exec.NextRunAt),
		nullStr(exec.WaitingFor), nullStr(exec.ClaimedBy), nullTime(exec.ClaimedAt),
	)
	return err
}

const executionColumns = `id, workflow_id, record_type, record_id, status, current_step_key, context, error_message, step_count, started_at, completed_at, next_run_at, waiting_for, claimed_by, claimed_at`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStepKey != nil {
		sets = append(sets, "current_step_key = ?")
		args = append(args, *update.CurrentStepKey)
	}
	if update.Context != nil {
		ctxJSON, err := json.Marshal(update.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(ctxJSON))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.StepCount != nil {
		sets = append(sets, "step_count = ?")
		args = append(args, *update.StepCount)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	} else if update.ClearNextRun {
		sets = append(sets, "next_run_at = NULL")
	}
	if update.WaitingFor != nil {
		sets = append(sets, "waiting_for = ?")
		args = append(args, *update.WaitingFor)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, filter.RecordID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (s *LibSQLStore) LatestExecution(ctx context.Context, workflowID, recordID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions
		 WHERE workflow_id = ? AND record_id = ?
		 ORDER BY started_at DESC LIMIT 1`, workflowID, recordID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *LibSQLStore) CountExecutions(ctx context.Context, workflowID, recordID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_executions WHERE workflow_id = ? AND record_id = ?`,
		workflowID, recordID).Scan(&n)
	return n, err
}

// ClaimExecution is the atomic claim required for multi-worker safety: a
// conditional update that only one worker can win. A stale claim (older than
// the lease) may be taken over.
func (s *LibSQLStore) ClaimExecution(ctx context.Context, id, workerID string, leaseSeconds int) (bool, error) {
	running := string(schema.ExecutionRunning)
	waiting := string(schema.ExecutionWaiting)
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions
		 SET status = ?, claimed_by = ?, claimed_at = CURRENT_TIMESTAMP
		 WHERE id = ?
		   AND status IN (?, ?)
		   AND (claimed_by IS NULL OR claimed_by = ?
		        OR claimed_at < datetime('now', '-' || ? || ' seconds'))`,
		running, workerID, id, running, waiting, workerID, leaseSeconds,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *LibSQLStore) ReleaseExecution(ctx context.Context, id, workerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET claimed_by = NULL, claimed_at = NULL
		 WHERE id = ? AND claimed_by = ?`, id, workerID)
	return err
}

func (s *LibSQLStore) DueExecutions(ctx context.Context, now time.Time, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
	 WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
	 ORDER BY next_run_at ASC`
	args := []any{string(schema.ExecutionWaiting), now.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// --- Step executions ---

func (s *LibSQLStore) CreateStepExecution(ctx context.Context, se *StepExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_step_executions (id, execution_id, step_key, kind, status, input, output, error_message, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		se.ID, se.ExecutionID, se.StepKey, string(se.Kind), string(se.Status),
		nullRaw(se.Input), nullRaw(se.Output), nullStr(se.ErrorMessage),
		timeOrNow(se.StartedAt), nullTime(se.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error {
	var sets []string
	var args []any
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_step_executions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step execution", id)
}

func (s *LibSQLStore) ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_key, kind, status, input, output, error_message, started_at, completed_at
		 FROM workflow_step_executions WHERE execution_id = ? ORDER BY started_at ASC, rowid ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*StepExecution
	for rows.Next() {
		se := &StepExecution{}
		var kind, status string
		var input, output, errMsg sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&se.ID, &se.ExecutionID, &se.StepKey, &kind, &status,
			&input, &output, &errMsg, &se.StartedAt, &completed); err != nil {
			return nil, err
		}
		se.Kind = schema.StepKind(kind)
		se.Status = schema.StepStatus(status)
		se.Input = rawOrNil(input)
		se.Output = rawOrNil(output)
		se.ErrorMessage = errMsg.String
		if completed.Valid {
			se.CompletedAt = &completed.Time
		}
		result = append(result, se)
	}
	return result, rows.Err()
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var name, triggerCfg, criteria sql.NullString
	var triggerType, matchMode, reentry string
	var active int
	err := row.Scan(&def.ID, &name, &def.ObjectType, &triggerType, &triggerCfg, &criteria,
		&matchMode, &reentry, &def.ReentryWaitDays, &active, &def.EvaluationOrder,
		&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	def.Name = name.String
	def.TriggerType = schema.TriggerType(triggerType)
	def.EntryMatchMode = schema.MatchMode(matchMode)
	def.ReentryMode = schema.ReentryMode(reentry)
	def.Active = active != 0
	if triggerCfg.Valid && triggerCfg.String != "" {
		if err := json.Unmarshal([]byte(triggerCfg.String), &def.TriggerConfig); err != nil {
			return nil, fmt.Errorf("unmarshal trigger_config: %w", err)
		}
	}
	if criteria.Valid && criteria.String != "" {
		if err := json.Unmarshal([]byte(criteria.String), &def.EntryCriteria); err != nil {
			return nil, fmt.Errorf("unmarshal entry_criteria: %w", err)
		}
	}
	return def, nil
}

func scanExecution(row rowScanner) (*Execution, error) {
	exec := &Execution{}
	var status string
	var ctxJSON, errMsg, waitingFor, claimedBy sql.NullString
	var completed, nextRun, claimedAt sql.NullTime
	err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.RecordType, &exec.RecordID, &status,
		&exec.CurrentStepKey, &ctxJSON, &errMsg, &exec.StepCount, &exec.StartedAt,
		&completed, &nextRun, &waitingFor, &claimedBy, &claimedAt)
	if err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	exec.ErrorMessage = errMsg.String
	exec.WaitingFor = waitingFor.String
	exec.ClaimedBy = claimedBy.String
	if ctxJSON.Valid && ctxJSON.String != "" {
		exec.Context = &schema.ExecutionContext{}
		if err := json.Unmarshal([]byte(ctxJSON.String), exec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal execution context: %w", err)
		}
	}
	if completed.Valid {
		exec.CompletedAt = &completed.Time
	}
	if nextRun.Valid {
		exec.NextRunAt = &nextRun.Time
	}
	if claimedAt.Valid {
		exec.ClaimedAt = &claimedAt.Time
	}
	return exec, nil
}

// --- Value helpers ---

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableJSONValue marshals v, returning nil for nil pointers/empty slices.
func nullableJSONValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *schema.Condition:
		if t == nil {
			return nil, nil
		}
	case *schema.ExecutionContext:
		if t == nil {
			return nil, nil
		}
	case []schema.Condition:
		if len(t) == 0 {
			return nil, nil
		}
	case []schema.Branch:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(kind, id)
	}
	return nil
}

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", kind, id)
}

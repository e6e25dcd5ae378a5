package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	// ErrJournalUnavailable is returned when the backing store cannot be
	// reached. It is fatal for the run and never retried.
	ErrJournalUnavailable = errors.New("journal unavailable")
	// ErrHandleClosed is returned when writing to a run with no open handle.
	ErrHandleClosed = errors.New("journal handle not open")
)

// Journal records run snapshots and their deltas, partitioned by run id.
type Journal struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	handles map[string]*Handle
}

// Handle is an open journal session for one run. It is shared by every
// caller that opened the run and released when the last one closes it.
type Handle struct {
	runID   string
	journal *Journal
	refs    int
}

// RunID returns the run the handle is scoped to.
func (h *Handle) RunID() string {
	return h.runID
}

// GetState reads the run's current snapshot.
func (h *Handle) GetState(ctx context.Context) (*models.RunState, error) {
	return h.journal.GetState(ctx, h.runID)
}

// PutStateDelta applies a delta to the run.
func (h *Handle) PutStateDelta(ctx context.Context, delta *models.RunStateDelta) error {
	return h.journal.PutStateDelta(ctx, h.runID, delta)
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the journal logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// NewJournal wraps a migrated database.
func NewJournal(db *DB, opts ...Option) *Journal {
	j := &Journal{
		db:      db,
		logger:  zap.NewNop(),
		now:     time.Now,
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// OpenJournal opens and migrates the database at path.
// Failures are reported as ErrJournalUnavailable.
func OpenJournal(path string, opts ...Option) (*Journal, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalUnavailable, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrJournalUnavailable, err)
	}
	return NewJournal(db, opts...), nil
}

// DB returns the underlying database.
func (j *Journal) DB() *DB {
	return j.db
}

// Open returns the handle for runID, creating it on first use.
// Repeated calls return the same handle; each must be paired with Close.
func (j *Journal) Open(ctx context.Context, runID string) (*Handle, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if h, ok := j.handles[runID]; ok {
		h.refs++
		return h, nil
	}
	if err := j.db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalUnavailable, err)
	}
	h := &Handle{runID: runID, journal: j, refs: 1}
	j.handles[runID] = h
	j.logger.Debug("journal handle opened", zap.String("run_id", runID))
	return h, nil
}

// IsOpen reports whether runID has an open handle.
func (j *Journal) IsOpen(runID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.handles[runID]
	return ok
}

// Close releases one reference to the handle for runID. The handle stays
// open while other callers hold it. Closing an unknown run is a no-op.
func (j *Journal) Close(runID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	h, ok := j.handles[runID]
	if !ok {
		return nil
	}
	if h.refs--; h.refs <= 0 {
		delete(j.handles, runID)
		j.logger.Debug("journal handle closed", zap.String("run_id", runID))
	}
	return nil
}

// Shutdown releases every handle and closes the database.
func (j *Journal) Shutdown() error {
	j.mu.Lock()
	j.handles = make(map[string]*Handle)
	j.mu.Unlock()
	return j.db.Close()
}

// GetState returns the latest snapshot of a run, or nil when the run id
// has never been written.
func (j *Journal) GetState(ctx context.Context, runID string) (*models.RunState, error) {
	var snapshot string
	err := j.db.QueryRow(ctx, `SELECT snapshot FROM runs WHERE run_id = ?`, runID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", runID, err)
	}

	var rs models.RunState
	if err := json.Unmarshal([]byte(snapshot), &rs); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", runID, err)
	}
	return &rs, nil
}

// PutStateDelta applies delta to the stored snapshot of runID and appends
// it to the run's delta log, in one transaction. A Reset delta starts a
// new generation and clears the previous log.
func (j *Journal) PutStateDelta(ctx context.Context, runID string, delta *models.RunStateDelta) error {
	if !j.IsOpen(runID) {
		return fmt.Errorf("%w: %s", ErrHandleClosed, runID)
	}
	if delta.IsEmpty() {
		return nil
	}

	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	now := formatTime(j.now())

	return j.db.Transaction(ctx, func(tx *sql.Tx) error {
		var current *models.RunState
		var snapshot string
		err := tx.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE run_id = ?`, runID).Scan(&snapshot)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read snapshot %s: %w", runID, err)
		default:
			current = &models.RunState{}
			if err := json.Unmarshal([]byte(snapshot), current); err != nil {
				return fmt.Errorf("decode snapshot %s: %w", runID, err)
			}
		}

		if current == nil && !delta.Reset && delta.Shared == nil {
			return fmt.Errorf("first delta for run %s must carry shared state", runID)
		}

		next := delta.Apply(current)
		next.RunID = runID
		next.Shared.RunID = runID
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}

		createdAt := formatTime(next.Shared.CreatedAt)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (run_id, query, status, phase, snapshot, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				query = excluded.query,
				status = excluded.status,
				phase = excluded.phase,
				snapshot = excluded.snapshot,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`, runID, next.Shared.Query, string(next.Shared.Status), string(next.Phase), string(data), createdAt, now)
		if err != nil {
			return fmt.Errorf("write snapshot %s: %w", runID, err)
		}

		if delta.Reset {
			if _, err := tx.ExecContext(ctx, `DELETE FROM run_deltas WHERE run_id = ?`, runID); err != nil {
				return fmt.Errorf("reset delta log %s: %w", runID, err)
			}
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM run_deltas WHERE run_id = ?`, runID).Scan(&seq); err != nil {
			return fmt.Errorf("next delta seq %s: %w", runID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_deltas (id, run_id, seq, phase, delta, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.New().String(), runID, seq, string(next.Phase), string(payload), now)
		if err != nil {
			return fmt.Errorf("append delta %s: %w", runID, err)
		}
		return nil
	})
}

// DeltaRecord is one entry of a run's delta log.
type DeltaRecord struct {
	Seq       int64
	Phase     models.Phase
	Delta     models.RunStateDelta
	CreatedAt time.Time
}

// History returns the delta log of a run in write order.
func (j *Journal) History(ctx context.Context, runID string) ([]DeltaRecord, error) {
	rows, err := j.db.Query(ctx, `
		SELECT seq, phase, delta, created_at FROM run_deltas
		WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", runID, err)
	}
	defer rows.Close()

	var out []DeltaRecord
	for rows.Next() {
		var rec DeltaRecord
		var phase, payload, created string
		if err := rows.Scan(&rec.Seq, &phase, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan delta: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Delta); err != nil {
			return nil, fmt.Errorf("decode delta %d: %w", rec.Seq, err)
		}
		rec.Phase = models.Phase(phase)
		rec.CreatedAt, _ = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID     string
	Query     string
	Status    models.RunStatus
	Phase     models.Phase
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListRuns returns runs with the given status, newest first. An empty
// status lists every run.
func (j *Journal) ListRuns(ctx context.Context, status models.RunStatus) ([]RunSummary, error) {
	query := `SELECT run_id, query, status, phase, created_at, updated_at FROM runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`
	return j.listRuns(ctx, query, args...)
}

// FindInterrupted returns runs that never reached a terminal status,
// oldest first. These are candidates for Resume.
func (j *Journal) FindInterrupted(ctx context.Context) ([]RunSummary, error) {
	return j.listRuns(ctx, `
		SELECT run_id, query, status, phase, created_at, updated_at FROM runs
		WHERE status NOT IN (?, ?) ORDER BY updated_at
	`, string(models.RunStatusCompleted), string(models.RunStatusError))
}

func (j *Journal) listRuns(ctx context.Context, query string, args ...any) ([]RunSummary, error) {
	rows, err := j.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var status, phase, created, updated string
		if err := rows.Scan(&s.RunID, &s.Query, &status, &phase, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.Status = models.RunStatus(status)
		s.Phase = models.Phase(phase)
		s.CreatedAt, _ = parseTime(created)
		s.UpdatedAt, _ = parseTime(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PurgeOldRuns deletes runs not updated within olderThan, along with
// their delta logs. Returns the number of runs deleted.
func (j *Journal) PurgeOldRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(j.now().Add(-olderThan))

	var count int64
	err := j.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM run_deltas WHERE run_id IN (SELECT run_id FROM runs WHERE updated_at < ?)
		`, cutoff); err != nil {
			return fmt.Errorf("purge deltas: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE updated_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		count, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

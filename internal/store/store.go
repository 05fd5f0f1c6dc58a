package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/researchflow/researchflow/types"
	"github.com/researchflow/researchflow/workflow"
)

// Store implements workflow.Store on GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	// locks serializes writes per workflow id; unrelated records
	// proceed in parallel.
	locks sync.Map // id -> *sync.Mutex
}

// Open connects to the configured database. Supported drivers are
// "sqlite" (default, pure Go) and "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	switch driver {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(dsn), gcfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), gcfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// New migrates the schema and returns a store.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(
		&workflowRow{},
		&researchNoteRow{},
		&iterationRow{},
		&approvalRow{},
		&searchRow{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Save persists the record: relational columns, full JSON snapshot and
// the approval audit tail, all in one transaction.
func (s *Store) Save(ctx context.Context, rec *workflow.WorkflowRecord) error {
	mu := s.lockFor(rec.ID)
	mu.Lock()
	defer mu.Unlock()

	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	row := workflowRow{
		ID:                 rec.ID,
		Topic:              rec.Topic,
		Status:             string(rec.Status),
		Stage:              string(rec.Stage),
		EscalatedFrom:      string(rec.EscalatedFrom),
		ResearchIterations: rec.ResearchIterations,
		RevisionIterations: rec.RevisionIterations,
		Version:            rec.Version,
		Error:              rec.Error,
		Snapshot:           string(snapshot),
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
		CompletedAt:        rec.CompletedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A soft-deleted row is invisible to the update below; without
		// this check a run racing a delete would drop its save silently.
		var deleted int64
		if err := tx.Unscoped().Model(&workflowRow{}).
			Where("id = ? AND deleted_at IS NOT NULL", rec.ID).Count(&deleted).Error; err != nil {
			return fmt.Errorf("failed to check workflow: %w", err)
		}
		if deleted > 0 {
			return types.NewError(types.ErrNotFound,
				fmt.Sprintf("workflow %s was deleted", rec.ID))
		}

		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("failed to save workflow: %w", err)
		}

		// Approvals are append-only; persist only the tail beyond what
		// is already stored.
		var existing int64
		if err := tx.Model(&approvalRow{}).Where("workflow_id = ?", rec.ID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to count approvals: %w", err)
		}
		for i := int(existing); i < len(rec.Approvals); i++ {
			a := rec.Approvals[i]
			if err := tx.Create(&approvalRow{
				WorkflowID:      rec.ID,
				Seq:             i,
				Type:            string(a.Type),
				Decision:        string(a.Decision),
				Approved:        a.Approved,
				Stage:           string(a.Stage),
				ContentSnapshot: a.ContentSnapshot,
				Notes:           a.Notes,
				Timestamp:       a.Timestamp,
			}).Error; err != nil {
				return fmt.Errorf("failed to append approval: %w", err)
			}
		}
		return nil
	})
}

// Load reconstructs a record: snapshot first, then the relational
// control fields overlaid as the authoritative source.
func (s *Store) Load(ctx context.Context, id string) (*workflow.WorkflowRecord, error) {
	var row workflowRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("workflow %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	return rowToRecord(&row)
}

func rowToRecord(row *workflowRow) (*workflow.WorkflowRecord, error) {
	rec := &workflow.WorkflowRecord{}
	if row.Snapshot != "" {
		if err := json.Unmarshal([]byte(row.Snapshot), rec); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
	}

	rec.ID = row.ID
	rec.Topic = row.Topic
	rec.Status = workflow.Status(row.Status)
	rec.Stage = workflow.Stage(row.Stage)
	rec.EscalatedFrom = workflow.Stage(row.EscalatedFrom)
	rec.ResearchIterations = row.ResearchIterations
	rec.RevisionIterations = row.RevisionIterations
	rec.Version = row.Version
	rec.Error = row.Error
	rec.CreatedAt = row.CreatedAt
	rec.UpdatedAt = row.UpdatedAt
	rec.CompletedAt = row.CompletedAt
	if rec.Artifacts == nil {
		rec.Artifacts = make(map[string]string)
	}
	return rec, nil
}

// List returns all non-deleted workflows, newest first.
func (s *Store) List(ctx context.Context) ([]*workflow.WorkflowRecord, error) {
	var rows []workflowRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	out := make([]*workflow.WorkflowRecord, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete soft-deletes the workflow row. Audit rows stay.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&workflowRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete workflow: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("workflow %s not found", id))
	}
	return nil
}

// AppendNote writes one research-notes audit row.
func (s *Store) AppendNote(ctx context.Context, note *workflow.ResearchNote) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&researchNoteRow{
		WorkflowID: note.WorkflowID,
		Pass:       note.Pass,
		Content:    note.Content,
		CreatedAt:  note.CreatedAt,
	}).Error
}

// AppendIteration writes one loop-verdict audit row.
func (s *Store) AppendIteration(ctx context.Context, it *workflow.Iteration) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&iterationRow{
		WorkflowID: it.WorkflowID,
		Loop:       it.Loop,
		Number:     it.Number,
		Sufficient: it.Sufficient,
		Feedback:   it.Feedback,
		CreatedAt:  it.CreatedAt,
	}).Error
}

// AppendSearch writes one tool-call audit row.
func (s *Store) AppendSearch(ctx context.Context, rec *workflow.SearchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&searchRow{
		WorkflowID:  rec.WorkflowID,
		Tool:        rec.Tool,
		Query:       rec.Query,
		ResultCount: rec.ResultCount,
		Succeeded:   rec.Succeeded,
		CreatedAt:   rec.CreatedAt,
	}).Error
}

// Statistics counts the audit tables for one workflow.
func (s *Store) Statistics(ctx context.Context, id string) (*workflow.Statistics, error) {
	// Statistics remain queryable for soft-deleted workflows, so go to
	// the audit tables directly after an existence check.
	var exists int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&workflowRow{}).
		Where("id = ?", id).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("failed to check workflow: %w", err)
	}
	if exists == 0 {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("workflow %s not found", id))
	}

	stats := &workflow.Statistics{}
	counts := []struct {
		model any
		dest  *int
	}{
		{&iterationRow{}, &stats.Iterations},
		{&researchNoteRow{}, &stats.ResearchNotes},
		{&searchRow{}, &stats.Searches},
		{&approvalRow{}, &stats.Approvals},
	}
	for _, c := range counts {
		var n int64
		if err := s.db.WithContext(ctx).Model(c.model).
			Where("workflow_id = ?", id).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
		}
		*c.dest = int(n)
	}
	return stats, nil
}

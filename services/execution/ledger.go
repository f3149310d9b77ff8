package execution

import (
	"context"
	"fmt"

	"octopus-controlplane/pkg/db/option"
	"octopus-controlplane/pkg/db/pagination"
	"octopus-controlplane/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger stores execution reports. Task existence is checked by the caller.
type Ledger struct {
	db   *gorm.DB
	repo repository.Repository[Execution]
}

type Params struct {
	fx.In
	DB *gorm.DB
}

func NewLedger(p Params) *Ledger {
	return &Ledger{
		db:   p.DB,
		repo: repository.ProvideStore[Execution](p.DB),
	}
}

// WithTrx binds the ledger to an open transaction.
func (l *Ledger) WithTrx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx, repo: l.repo.WithTrx(tx)}
}

// Record inserts e, or updates status and result in place when the same
// attempt already reported.
func (l *Ledger) Record(ctx context.Context, e *Execution) error {
	if e.ExecutionID == "" {
		e.ExecutionID = ID(e.TaskID, e.ClientID, e.AttemptAt)
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "execution_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "result", "updated_at"}),
	}).Create(e).Error
	if err != nil {
		return fmt.Errorf("record execution %s: %w", e.ExecutionID, err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, executionID string) (*Execution, error) {
	return l.repo.FindOne(ctx, &Execution{ExecutionID: executionID})
}

// ForCycle returns the executions of one task cycle, oldest first.
func (l *Ledger) ForCycle(ctx context.Context, taskID string, cycle int) ([]*Execution, error) {
	return l.repo.Find(ctx, nil,
		option.WithWhere("task_id = ? AND cycle = ?", taskID, cycle),
		option.WithSortBy(option.QuerySortBy{SortBy: "updated_at", OrderBy: "asc"}),
	)
}

// TerminalByClient returns the latest terminal status per client for a task
// cycle.
func (l *Ledger) TerminalByClient(ctx context.Context, taskID string, cycle int) (map[string]Status, error) {
	execs, err := l.ForCycle(ctx, taskID, cycle)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Status, len(execs))
	for _, e := range execs {
		if e.Status.Terminal() {
			out[e.ClientID] = e.Status
		}
	}
	return out, nil
}

type Filter struct {
	TaskID   string
	ClientID string
	Status   Status
}

func (l *Ledger) List(ctx context.Context, f Filter, page pagination.Pagination) ([]*Execution, *pagination.PageInfo, error) {
	page = page.Normalize()
	query := &Execution{TaskID: f.TaskID, ClientID: f.ClientID, Status: f.Status}

	rows, err := l.repo.Find(ctx, query, applyExecutionPage(page))
	if err != nil {
		return nil, nil, err
	}
	return pagination.BuildCursorPageInfo(rows, page.Limit, func(e *Execution) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ExecutionID}
	})
}

// executions are keyed by execution_id rather than id
func applyExecutionPage(p pagination.Pagination) option.QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err != nil {
				_ = db.AddError(err)
				return db
			}
			db = db.Where("(created_at > ?) OR (created_at = ? AND execution_id > ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
		return db.Order("created_at ASC").Order("execution_id ASC").Limit(p.Limit + 1)
	}
}

// Stats counts executions of a task per status.
func (l *Ledger) Stats(ctx context.Context, taskID string) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	err := l.db.WithContext(ctx).Model(&Execution{}).
		Select("status, COUNT(*) AS count").
		Where("task_id = ?", taskID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/staffdesk/staffdesk/internal/database"
	"github.com/staffdesk/staffdesk/internal/employee"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrUnknownAssignee = errors.New("assigned employee does not exist")
	ErrBadOrdering     = errors.New("unsupported ordering field")
)

// ListFilter narrows and orders List results. Zero values mean no filtering
// and the default ordering (newest first).
type ListFilter struct {
	Status           string
	Assignee         string // exact assignee name
	AssigneeContains string // case-insensitive substring of assignee name
	Search           string // matches title, description or assignee name
	Ordering         string // created_at / updated_at, "-" prefix for descending
}

// Repository handles task persistence
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, t *Task) (*Task, error) {
	dbTask := &database.Task{
		Title:        t.Title,
		Description:  t.Description,
		AssignedToID: t.AssignedToID,
		Status:       t.Status,
	}

	_, err := r.db.NewInsert().
		Model(dbTask).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "violates foreign key constraint") {
			return nil, ErrUnknownAssignee
		}
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return r.GetByID(ctx, dbTask.ID)
}

// GetByID loads a task with its assignee joined in, so list and detail
// responses carry the employee without a second query.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Task, error) {
	dbTask := new(database.Task)
	err := r.db.NewSelect().
		Model(dbTask).
		Relation("AssignedTo").
		Where("t.id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return mapDBTask(dbTask), nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	orderExpr, err := orderingExpr(filter.Ordering)
	if err != nil {
		return nil, err
	}

	var dbTasks []*database.Task

	q := r.db.NewSelect().
		Model(&dbTasks).
		Relation("AssignedTo").
		OrderExpr(orderExpr)

	if filter.Status != "" {
		q = q.Where("t.status = ?", filter.Status)
	}
	if filter.Assignee != "" {
		q = q.Where("assigned_to.name = ?", filter.Assignee)
	}
	if filter.AssigneeContains != "" {
		q = q.Where("assigned_to.name ILIKE ?", "%"+filter.AssigneeContains+"%")
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("t.title ILIKE ?", pattern).
				WhereOr("t.description ILIKE ?", pattern).
				WhereOr("assigned_to.name ILIKE ?", pattern)
		})
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(dbTasks))
	for _, dbt := range dbTasks {
		tasks = append(tasks, mapDBTask(dbt))
	}
	return tasks, nil
}

func (r *Repository) Update(ctx context.Context, t *Task) (*Task, error) {
	result, err := r.db.NewUpdate().
		Model((*database.Task)(nil)).
		Set("title = ?", t.Title).
		Set("description = ?", t.Description).
		Set("assigned_to_id = ?", t.AssignedToID).
		Set("status = ?", t.Status).
		Set("updated_at = NOW()").
		Where("id = ?", t.ID).
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "violates foreign key constraint") {
			return nil, ErrUnknownAssignee
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return r.GetByID(ctx, t.ID)
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.NewDelete().
		Model((*database.Task)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// orderingExpr maps a client ordering value to a whitelisted expression.
// Sortable fields are created_at and updated_at; "-" prefix sorts descending,
// and the default is newest first.
func orderingExpr(ordering string) (string, error) {
	if ordering == "" {
		return "t.created_at DESC", nil
	}

	direction := "ASC"
	field := ordering
	if strings.HasPrefix(ordering, "-") {
		direction = "DESC"
		field = ordering[1:]
	}

	switch field {
	case "created_at", "updated_at":
		return fmt.Sprintf("t.%s %s", field, direction), nil
	}
	return "", ErrBadOrdering
}

func mapDBTask(dbt *database.Task) *Task {
	t := &Task{
		ID:           dbt.ID,
		Title:        dbt.Title,
		Description:  dbt.Description,
		AssignedToID: dbt.AssignedToID,
		Status:       dbt.Status,
		CreatedAt:    dbt.CreatedAt,
		UpdatedAt:    dbt.UpdatedAt,
	}
	if dbt.AssignedTo != nil {
		t.AssignedTo = &employee.Employee{
			ID:         dbt.AssignedTo.ID,
			Name:       dbt.AssignedTo.Name,
			Email:      dbt.AssignedTo.Email,
			Department: dbt.AssignedTo.Department,
			Position:   dbt.AssignedTo.Position,
		}
	}
	return t
}

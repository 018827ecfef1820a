package employee

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/staffdesk/staffdesk/internal/database"
)

var (
	ErrNotFound       = errors.New("employee not found")
	ErrDuplicateEmail = errors.New("employee email already exists")
)

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Department string
	// Search matches name or email, case-insensitively.
	Search string
}

// Repository handles employee persistence
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, e *Employee) (*Employee, error) {
	dbEmployee := &database.Employee{
		Name:       e.Name,
		Email:      e.Email,
		Department: e.Department,
		Position:   e.Position,
	}

	_, err := r.db.NewInsert().
		Model(dbEmployee).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create employee: %w", err)
	}

	return mapDBEmployee(dbEmployee), nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Employee, error) {
	dbEmployee := new(database.Employee)
	err := r.db.NewSelect().
		Model(dbEmployee).
		Where("e.id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	return mapDBEmployee(dbEmployee), nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Employee, error) {
	var dbEmployees []*database.Employee

	q := r.db.NewSelect().
		Model(&dbEmployees).
		Order("name ASC")

	if filter.Department != "" {
		q = q.Where("e.department = ?", filter.Department)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("e.name ILIKE ?", pattern).
				WhereOr("e.email ILIKE ?", pattern)
		})
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}

	employees := make([]*Employee, 0, len(dbEmployees))
	for _, dbe := range dbEmployees {
		employees = append(employees, mapDBEmployee(dbe))
	}
	return employees, nil
}

func (r *Repository) Update(ctx context.Context, e *Employee) (*Employee, error) {
	dbEmployee := &database.Employee{
		ID:         e.ID,
		Name:       e.Name,
		Email:      e.Email,
		Department: e.Department,
		Position:   e.Position,
	}

	result, err := r.db.NewUpdate().
		Model(dbEmployee).
		WherePK().
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to update employee: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return mapDBEmployee(dbEmployee), nil
}

// Delete removes the employee; owned tasks are cascade-deleted by the database.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.NewDelete().
		Model((*database.Employee)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete employee: %w", err)
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

func mapDBEmployee(dbe *database.Employee) *Employee {
	return &Employee{
		ID:         dbe.ID,
		Name:       dbe.Name,
		Email:      dbe.Email,
		Department: dbe.Department,
		Position:   dbe.Position,
	}
}

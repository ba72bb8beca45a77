package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/carline/pickup-queue/internal/model"
)

// SchoolRepo provides access to the schools table.
type SchoolRepo struct {
	db *sql.DB
}

// NewSchoolRepo returns a SchoolRepo bound to the given database.
func NewSchoolRepo(db *sql.DB) *SchoolRepo { return &SchoolRepo{db: db} }

// Create inserts a school record.
func (r *SchoolRepo) Create(ctx context.Context, name, address string) (*model.School, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO schools (name, address) VALUES (?, ?)`,
		strings.TrimSpace(name), strings.TrimSpace(address))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID loads a school by primary key.  sql.ErrNoRows when absent.
func (r *SchoolRepo) GetByID(ctx context.Context, id uint64) (*model.School, error) {
	var s model.School
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, address, created_at, updated_at FROM schools WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.Address, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns all schools ordered by name.
func (r *SchoolRepo) List(ctx context.Context) ([]model.School, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, address, created_at, updated_at FROM schools ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	schools := make([]model.School, 0)
	for rows.Next() {
		var s model.School
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		schools = append(schools, s)
	}
	return schools, rows.Err()
}

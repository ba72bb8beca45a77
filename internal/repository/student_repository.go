package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/carline/pickup-queue/internal/model"
)

// StudentRepo provides CRUD access to the students table.  Students are
// always owned by the parent that registered them; ownership checks
// live here so handlers only translate errors.
type StudentRepo struct {
	db *sql.DB
}

// NewStudentRepo returns a StudentRepo bound to the given database.
func NewStudentRepo(db *sql.DB) *StudentRepo { return &StudentRepo{db: db} }

// newQRToken generates the opaque token printed on a student's badge.
// 16 random bytes hex-encoded; uniqueness is enforced by the qr_code
// column's unique index.
func newQRToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Create inserts a student for a parent and returns the stored record
// including its generated QR token.
func (r *StudentRepo) Create(ctx context.Context, parentID, schoolID uint64, firstName, lastName, grade string) (*model.Student, error) {
	qr, err := newQRToken()
	if err != nil {
		return nil, err
	}
	const ins = `INSERT INTO students (parent_id, school_id, first_name, last_name, grade, qr_code)
	             VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, ins, parentID, schoolID,
		strings.TrimSpace(firstName), strings.TrimSpace(lastName), strings.TrimSpace(grade), qr)
	if err != nil {
		if isDuplicateErr(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID loads a student by primary key.  sql.ErrNoRows when absent.
func (r *StudentRepo) GetByID(ctx context.Context, id uint64) (*model.Student, error) {
	const sel = `SELECT id, parent_id, school_id, first_name, last_name, grade, qr_code, created_at, updated_at
	             FROM students WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, sel, id))
}

// GetByQRCode resolves a scanned badge token to its student.
// sql.ErrNoRows when no badge matches.
func (r *StudentRepo) GetByQRCode(ctx context.Context, qr string) (*model.Student, error) {
	const sel = `SELECT id, parent_id, school_id, first_name, last_name, grade, qr_code, created_at, updated_at
	             FROM students WHERE qr_code = ? LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, sel, strings.TrimSpace(qr)))
}

// ListByParent returns all students registered by a parent, oldest
// first.
func (r *StudentRepo) ListByParent(ctx context.Context, parentID uint64) ([]model.Student, error) {
	const sel = `SELECT id, parent_id, school_id, first_name, last_name, grade, qr_code, created_at, updated_at
	             FROM students WHERE parent_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, sel, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	students := make([]model.Student, 0)
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.ParentID, &s.SchoolID, &s.FirstName, &s.LastName,
			&s.Grade, &s.QRCode, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Update changes a student's name/grade.  Ownership is enforced by the
// WHERE clause: updating someone else's student reports ErrForbidden
// when the row exists under a different parent, sql.ErrNoRows when the
// student does not exist at all.
func (r *StudentRepo) Update(ctx context.Context, id, parentID uint64, firstName, lastName, grade string) error {
	const upd = `UPDATE students SET first_name = ?, last_name = ?, grade = ?
	             WHERE id = ? AND parent_id = ?`
	res, err := r.db.ExecContext(ctx, upd,
		strings.TrimSpace(firstName), strings.TrimSpace(lastName), strings.TrimSpace(grade), id, parentID)
	if err != nil {
		return err
	}
	return r.checkOwned(ctx, res, id)
}

// Delete removes a student owned by the parent.
func (r *StudentRepo) Delete(ctx context.Context, id, parentID uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = ? AND parent_id = ?`, id, parentID)
	if err != nil {
		return err
	}
	return r.checkOwned(ctx, res, id)
}

// checkOwned distinguishes "not yours" from "does not exist" after a
// parent-scoped write affected zero rows.
func (r *StudentRepo) checkOwned(ctx context.Context, res sql.Result, id uint64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM students WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return err
	}
	return ErrForbidden
}

func (r *StudentRepo) scanOne(row *sql.Row) (*model.Student, error) {
	var s model.Student
	err := row.Scan(&s.ID, &s.ParentID, &s.SchoolID, &s.FirstName, &s.LastName,
		&s.Grade, &s.QRCode, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// isDuplicateErr reports a MySQL duplicate-key violation (error 1062).
func isDuplicateErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}

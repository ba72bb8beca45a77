package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/carline/pickup-queue/internal/model"
)

// VehicleRepo provides CRUD access to the vehicles table and the
// vehicle_students association used by batched plate scans.
type VehicleRepo struct {
	db *sql.DB
}

// NewVehicleRepo returns a VehicleRepo bound to the given database.
func NewVehicleRepo(db *sql.DB) *VehicleRepo { return &VehicleRepo{db: db} }

// NormalizePlate upper-cases a plate and strips spaces and dashes so
// that OCR output and manual entry resolve to the same row.
func NormalizePlate(plate string) string {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	plate = strings.ReplaceAll(plate, " ", "")
	return strings.ReplaceAll(plate, "-", "")
}

// Create inserts a vehicle for a parent.  ErrDuplicate when the plate
// is already registered.
func (r *VehicleRepo) Create(ctx context.Context, parentID uint64, plate, description string) (*model.Vehicle, error) {
	const ins = `INSERT INTO vehicles (parent_id, license_plate, description) VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, ins, parentID, NormalizePlate(plate), strings.TrimSpace(description))
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

// GetByID loads a vehicle by primary key.  sql.ErrNoRows when absent.
func (r *VehicleRepo) GetByID(ctx context.Context, id uint64) (*model.Vehicle, error) {
	const sel = `SELECT id, parent_id, license_plate, description, created_at, updated_at
	             FROM vehicles WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, sel, id))
}

// GetByPlate resolves a normalized plate to its vehicle.  This is the
// lookup behind the plate scan endpoint; the OCR text arrives here
// after normalization.  sql.ErrNoRows when no vehicle matches.
func (r *VehicleRepo) GetByPlate(ctx context.Context, plate string) (*model.Vehicle, error) {
	const sel = `SELECT id, parent_id, license_plate, description, created_at, updated_at
	             FROM vehicles WHERE license_plate = ? LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, sel, NormalizePlate(plate)))
}

// ListByParent returns all vehicles registered by a parent.
func (r *VehicleRepo) ListByParent(ctx context.Context, parentID uint64) ([]model.Vehicle, error) {
	const sel = `SELECT id, parent_id, license_plate, description, created_at, updated_at
	             FROM vehicles WHERE parent_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, sel, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	vehicles := make([]model.Vehicle, 0)
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.ID, &v.ParentID, &v.LicensePlate, &v.Description,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// Delete removes a vehicle owned by the parent.  Association rows go
// with it via the foreign key cascade.
func (r *VehicleRepo) Delete(ctx context.Context, id, parentID uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = ? AND parent_id = ?`, id, parentID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM vehicles WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return err
	}
	return ErrForbidden
}

// LinkStudent associates a student with a vehicle.  Both records must
// belong to the calling parent; linking across families is forbidden.
// ErrDuplicate when the link already exists.
func (r *VehicleRepo) LinkStudent(ctx context.Context, vehicleID, studentID, parentID uint64) error {
	if err := r.ownsBoth(ctx, vehicleID, studentID, parentID); err != nil {
		return err
	}
	const ins = `INSERT INTO vehicle_students (vehicle_id, student_id) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, ins, vehicleID, studentID); err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UnlinkStudent removes a vehicle/student association.
func (r *VehicleRepo) UnlinkStudent(ctx context.Context, vehicleID, studentID, parentID uint64) error {
	if err := r.ownsBoth(ctx, vehicleID, studentID, parentID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM vehicle_students WHERE vehicle_id = ? AND student_id = ?`, vehicleID, studentID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// StudentIDs returns the ids of the students linked to a vehicle.
func (r *VehicleRepo) StudentIDs(ctx context.Context, vehicleID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT student_id FROM vehicle_students WHERE vehicle_id = ? ORDER BY created_at, student_id`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ownsBoth verifies vehicle and student exist and belong to parentID.
func (r *VehicleRepo) ownsBoth(ctx context.Context, vehicleID, studentID, parentID uint64) error {
	var owner uint64
	err := r.db.QueryRowContext(ctx, `SELECT parent_id FROM vehicles WHERE id = ?`, vehicleID).Scan(&owner)
	if err != nil {
		return err
	}
	if owner != parentID {
		return ErrForbidden
	}
	err = r.db.QueryRowContext(ctx, `SELECT parent_id FROM students WHERE id = ?`, studentID).Scan(&owner)
	if err != nil {
		return err
	}
	if owner != parentID {
		return ErrForbidden
	}
	return nil
}

func (r *VehicleRepo) scanOne(row *sql.Row) (*model.Vehicle, error) {
	var v model.Vehicle
	err := row.Scan(&v.ID, &v.ParentID, &v.LicensePlate, &v.Description, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/carline/pickup-queue/internal/model"
	"github.com/carline/pickup-queue/internal/pickup"
)

// MySQL server error numbers that mean "replay the transaction".
const (
	mysqlErrLockDeadlock    = 1213 // ER_LOCK_DEADLOCK
	mysqlErrLockWaitTimeout = 1205 // ER_LOCK_WAIT_TIMEOUT
)

// QueueStore implements pickup.Store on MySQL.  Every pickup.Tx it
// hands out wraps one *sql.Tx, so all queue operations of a logical
// request commit or roll back as a unit.  The duplicate check and the
// active count read both use SELECT ... FOR UPDATE; under InnoDB the
// locked index ranges serialize concurrent scans of the same student
// and concurrent adds to the same school.
type QueueStore struct {
	db *sql.DB
}

// NewQueueStore returns a QueueStore bound to the given database.
func NewQueueStore(db *sql.DB) *QueueStore { return &QueueStore{db: db} }

// DB exposes the underlying handle for adapters that only need plain
// reads (queue snapshots, listings).
func (s *QueueStore) DB() *sql.DB { return s.db }

// RunInTx runs fn inside one transaction.  Deadlocks and lock wait
// timeouts are mapped to pickup.ErrConflict so the manager can replay.
func (s *QueueStore) RunInTx(ctx context.Context, fn func(tx pickup.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreErr(err)
	}
	if err := fn(&queueTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return mapStoreErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// mapStoreErr wraps retryable MySQL failures in pickup.ErrConflict and
// passes everything else through unchanged.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var my *mysql.MySQLError
	if errors.As(err, &my) {
		if my.Number == mysqlErrLockDeadlock || my.Number == mysqlErrLockWaitTimeout {
			return fmt.Errorf("%w: %v", pickup.ErrConflict, err)
		}
	}
	return err
}

// queueTx implements pickup.Tx over one open *sql.Tx.
type queueTx struct {
	tx *sql.Tx
}

const entryColumns = `id, student_id, parent_id, school_id, vehicle_id,
	status, queue_position, teacher_id, entered_at, called_at, picked_up_at`

// scanEntry reads one queue_entries row into a model.QueueEntry.
func scanEntry(row *sql.Row) (*model.QueueEntry, error) {
	var (
		e          model.QueueEntry
		vehicleID  sql.NullInt64
		teacherID  sql.NullInt64
		calledAt   sql.NullTime
		pickedUpAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.StudentID, &e.ParentID, &e.SchoolID, &vehicleID,
		&e.Status, &e.QueuePosition, &teacherID, &e.EnteredAt, &calledAt, &pickedUpAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if vehicleID.Valid {
		v := uint64(vehicleID.Int64)
		e.VehicleID = &v
	}
	if teacherID.Valid {
		t := uint64(teacherID.Int64)
		e.TeacherID = &t
	}
	if calledAt.Valid {
		t := calledAt.Time
		e.CalledAt = &t
	}
	if pickedUpAt.Valid {
		t := pickedUpAt.Time
		e.PickedUpAt = &t
	}
	return &e, nil
}

// StudentByID fetches a student row, returning (nil, nil) when absent.
func (q *queueTx) StudentByID(ctx context.Context, studentID uint64) (*model.Student, error) {
	const sel = `SELECT id, parent_id, school_id, first_name, last_name, grade, qr_code, created_at, updated_at
	             FROM students WHERE id = ?`
	var s model.Student
	err := q.tx.QueryRowContext(ctx, sel, studentID).Scan(
		&s.ID, &s.ParentID, &s.SchoolID, &s.FirstName, &s.LastName, &s.Grade, &s.QRCode,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// VehicleByID fetches a vehicle row, returning (nil, nil) when absent.
func (q *queueTx) VehicleByID(ctx context.Context, vehicleID uint64) (*model.Vehicle, error) {
	const sel = `SELECT id, parent_id, license_plate, description, created_at, updated_at
	             FROM vehicles WHERE id = ?`
	var v model.Vehicle
	err := q.tx.QueryRowContext(ctx, sel, vehicleID).Scan(
		&v.ID, &v.ParentID, &v.LicensePlate, &v.Description, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// VehicleStudents lists the students linked to a vehicle in link
// creation order, which is the arrival order used for batch positions.
func (q *queueTx) VehicleStudents(ctx context.Context, vehicleID uint64) ([]model.Student, error) {
	const sel = `SELECT s.id, s.parent_id, s.school_id, s.first_name, s.last_name, s.grade, s.qr_code,
	                    s.created_at, s.updated_at
	             FROM vehicle_students vs
	             JOIN students s ON s.id = vs.student_id
	             WHERE vs.vehicle_id = ?
	             ORDER BY vs.created_at, s.id`
	rows, err := q.tx.QueryContext(ctx, sel, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []model.Student
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

// ActiveEntryByStudent locks and returns the student's waiting/called
// entry.  The row lock makes a concurrent scan of the same student
// wait until this transaction decides what to do with the entry.
func (q *queueTx) ActiveEntryByStudent(ctx context.Context, studentID uint64) (*model.QueueEntry, error) {
	sel := `SELECT ` + entryColumns + `
	        FROM queue_entries
	        WHERE student_id = ? AND status IN ('waiting','called')
	        LIMIT 1
	        FOR UPDATE`
	return scanEntry(q.tx.QueryRowContext(ctx, sel, studentID))
}

// ActiveCount counts the school's active entries.  The FOR UPDATE range
// lock over the school's index entries blocks a concurrent add from
// reading the same count, which is what keeps positions unique.
func (q *queueTx) ActiveCount(ctx context.Context, schoolID uint64) (int, error) {
	const sel = `SELECT COUNT(*)
	             FROM queue_entries
	             WHERE school_id = ? AND status IN ('waiting','called')
	             FOR UPDATE`
	var n int
	if err := q.tx.QueryRowContext(ctx, sel, schoolID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// InsertEntries bulk-inserts queue entries in one statement.  For a
// single-row insert the generated ID is written back to the entry.
func (q *queueTx) InsertEntries(ctx context.Context, entries []*model.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := `INSERT INTO queue_entries
	          (student_id, parent_id, school_id, vehicle_id, status, queue_position, entered_at) VALUES `
	args := make([]interface{}, 0, len(entries)*7)
	for i, e := range entries {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?)"
		var vehicleID interface{}
		if e.VehicleID != nil {
			vehicleID = *e.VehicleID
		}
		args = append(args, e.StudentID, e.ParentID, e.SchoolID, vehicleID,
			e.Status, e.QueuePosition, e.EnteredAt.Format("2006-01-02 15:04:05"))
	}
	res, err := q.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if len(entries) == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		entries[0].ID = uint64(id)
	}
	return nil
}

// EntryByID locks and returns any entry by primary key.
func (q *queueTx) EntryByID(ctx context.Context, entryID uint64) (*model.QueueEntry, error) {
	sel := `SELECT ` + entryColumns + `
	        FROM queue_entries
	        WHERE id = ?
	        FOR UPDATE`
	return scanEntry(q.tx.QueryRowContext(ctx, sel, entryID))
}

// AdvanceEntry performs one forward status transition, stamping the
// transition timestamp and the acting staff member.  The WHERE clause
// re-checks the previous status so a racing transition surfaces as a
// conflict instead of silently double-applying.
func (q *queueTx) AdvanceEntry(ctx context.Context, entryID uint64, fromStatus, toStatus string, at time.Time, teacherID *uint64) error {
	var column string
	switch toStatus {
	case model.StatusCalled:
		column = "called_at"
	case model.StatusPickedUp:
		column = "picked_up_at"
	default:
		return fmt.Errorf("advance to unexpected status %q", toStatus)
	}
	var tid interface{}
	if teacherID != nil {
		tid = *teacherID
	}
	upd := `UPDATE queue_entries
	        SET status = ?, ` + column + ` = ?, teacher_id = COALESCE(?, teacher_id)
	        WHERE id = ? AND status = ?`
	res, err := q.tx.ExecContext(ctx, upd, toStatus, at.Format("2006-01-02 15:04:05"), tid, entryID, fromStatus)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: entry %d left status %q", pickup.ErrConflict, entryID, fromStatus)
	}
	return nil
}

// DeleteEntry destroys an entry row.
func (q *queueTx) DeleteEntry(ctx context.Context, entryID uint64) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, entryID)
	return err
}

// ShiftPositionsAfter closes the gap left by a removal: every active
// entry of the school behind the removed position moves up by one.
// Runs in the same transaction as the delete, so readers never observe
// a hole in the sequence.
func (q *queueTx) ShiftPositionsAfter(ctx context.Context, schoolID uint64, position int) error {
	const upd = `UPDATE queue_entries
	             SET queue_position = queue_position - 1
	             WHERE school_id = ? AND status IN ('waiting','called') AND queue_position > ?`
	_, err := q.tx.ExecContext(ctx, upd, schoolID, position)
	return err
}

// EntryView is the JSON shape of one queue entry as served to viewers
// (staff board, kiosk, parent app).  Timestamps are RFC3339 UTC.
type EntryView struct {
	ID          uint64  `json:"id"`
	StudentID   uint64  `json:"student_id"`
	StudentName string  `json:"student_name"`
	Grade       string  `json:"grade"`
	SchoolID    uint64  `json:"school_id"`
	VehicleID   *uint64 `json:"vehicle_id,omitempty"`
	Status      string  `json:"status"`
	Position    int     `json:"position"`
	EnteredAt   string  `json:"entered_at"`
	CalledAt    *string `json:"called_at,omitempty"`
	PickedUpAt  *string `json:"picked_up_at,omitempty"`
}

// ActiveBySchool returns the full active queue snapshot of a school
// ordered by position.  This is the view all room subscribers re-fetch
// after a change event, and the polling fallback when push is
// unavailable.
func (s *QueueStore) ActiveBySchool(ctx context.Context, schoolID uint64) ([]EntryView, error) {
	const sel = `SELECT e.id, e.student_id, CONCAT(st.first_name, ' ', st.last_name), st.grade,
	                    e.school_id, e.vehicle_id, e.status, e.queue_position,
	                    e.entered_at, e.called_at, e.picked_up_at
	             FROM queue_entries e
	             JOIN students st ON st.id = e.student_id
	             WHERE e.school_id = ? AND e.status IN ('waiting','called')
	             ORDER BY e.queue_position ASC`
	return s.queryViews(ctx, sel, schoolID)
}

// ActiveByParent returns the caller's own active entries across
// schools, newest last, for the parent "my queue" view.
func (s *QueueStore) ActiveByParent(ctx context.Context, parentID uint64) ([]EntryView, error) {
	const sel = `SELECT e.id, e.student_id, CONCAT(st.first_name, ' ', st.last_name), st.grade,
	                    e.school_id, e.vehicle_id, e.status, e.queue_position,
	                    e.entered_at, e.called_at, e.picked_up_at
	             FROM queue_entries e
	             JOIN students st ON st.id = e.student_id
	             WHERE e.parent_id = ? AND e.status IN ('waiting','called')
	             ORDER BY e.school_id, e.queue_position ASC`
	return s.queryViews(ctx, sel, parentID)
}

func (s *QueueStore) queryViews(ctx context.Context, query string, arg uint64) ([]EntryView, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	views := make([]EntryView, 0)
	for rows.Next() {
		var (
			v          EntryView
			vehicleID  sql.NullInt64
			enteredAt  time.Time
			calledAt   sql.NullTime
			pickedUpAt sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.StudentID, &v.StudentName, &v.Grade,
			&v.SchoolID, &vehicleID, &v.Status, &v.Position,
			&enteredAt, &calledAt, &pickedUpAt); err != nil {
			return nil, err
		}
		if vehicleID.Valid {
			id := uint64(vehicleID.Int64)
			v.VehicleID = &id
		}
		v.EnteredAt = enteredAt.UTC().Format(time.RFC3339)
		if calledAt.Valid {
			iso := calledAt.Time.UTC().Format(time.RFC3339)
			v.CalledAt = &iso
		}
		if pickedUpAt.Valid {
			iso := pickedUpAt.Time.UTC().Format(time.RFC3339)
			v.PickedUpAt = &iso
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

package model

import "time"

// Queue entry statuses.  An entry is "active" while it is waiting or
// called; once picked up it leaves the active set and is retained as
// pickup history.  History rows keep their last queue_position but no
// longer participate in renumbering.
const (
	StatusWaiting  = "waiting"
	StatusCalled   = "called"
	StatusPickedUp = "picked_up"
)

// NextStatus returns the status an active entry advances to when the
// same student is scanned again.  The sequence is strictly forward:
// waiting -> called -> picked_up.  ok is false when the entry cannot
// advance any further.
func NextStatus(status string) (next string, ok bool) {
	switch status {
	case StatusWaiting:
		return StatusCalled, true
	case StatusCalled:
		return StatusPickedUp, true
	}
	return "", false
}

// IsActive reports whether entries with this status count toward a
// school's dense position sequence.
func IsActive(status string) bool {
	return status == StatusWaiting || status == StatusCalled
}

// QueueEntry records one student's occupancy of a pickup queue slot.
// Positions are dense per school: at any moment the active entries of
// a school hold exactly the positions 1..N in arrival order.
//
// Fields:
//  ID            – primary key identifier.
//  StudentID     – student occupying the slot.
//  ParentID      – parent the student belongs to.
//  SchoolID      – school whose queue the entry lives in.
//  VehicleID     – vehicle that triggered the entry, when the entry
//                  originated from a plate scan (nullable).
//  Status        – waiting, called or picked_up.
//  QueuePosition – 1-based position among the school's active entries.
//  TeacherID     – staff member who performed the called/picked_up
//                  transition (nullable; self check-ins leave it unset).
//  EnteredAt     – when the entry was created.
//  CalledAt      – when the entry moved to called (nullable).
//  PickedUpAt    – when the entry moved to picked_up (nullable).
type QueueEntry struct {
	ID            uint64     // queue_entries.id
	StudentID     uint64     // queue_entries.student_id
	ParentID      uint64     // queue_entries.parent_id
	SchoolID      uint64     // queue_entries.school_id
	VehicleID     *uint64    // queue_entries.vehicle_id (nullable)
	Status        string     // queue_entries.status
	QueuePosition int        // queue_entries.queue_position
	TeacherID     *uint64    // queue_entries.teacher_id (nullable)
	EnteredAt     time.Time  // queue_entries.entered_at
	CalledAt      *time.Time // queue_entries.called_at (nullable)
	PickedUpAt    *time.Time // queue_entries.picked_up_at (nullable)
}

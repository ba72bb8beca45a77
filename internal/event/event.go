// Package event defines message payloads exchanged over the message
// broker and the background consumer that records them.
package event

// PickupCompletedQueue is the durable broker queue carrying completed
// pickups.
const PickupCompletedQueue = "pickup.completed"

// PickupCompletedEvent is published when a student's pickup reaches
// picked_up.  It carries enough context for downstream consumers
// (history log, analytics, notifications) without querying the primary
// database.
type PickupCompletedEvent struct {
	EntryID     uint64  `json:"entry_id"`
	StudentID   uint64  `json:"student_id"`
	StudentName string  `json:"student_name"`
	SchoolID    uint64  `json:"school_id"`
	ParentID    uint64  `json:"parent_id"`
	TeacherID   *uint64 `json:"teacher_id,omitempty"`
	VehicleID   *uint64 `json:"vehicle_id,omitempty"`
	EnteredAt   string  `json:"entered_at"`
	CalledAt    string  `json:"called_at,omitempty"`
	PickedUpAt  string  `json:"picked_up_at"`
}

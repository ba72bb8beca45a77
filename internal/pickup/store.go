// Package pickup implements the pickup queue manager: position
// assignment, forward-only status transitions, duplicate guards,
// batched vehicle scans, renumbering on removal and school-room
// change notification.  All state lives behind the Store interface;
// the manager holds no queue state of its own.
package pickup

import (
	"context"
	"errors"
	"time"

	"github.com/carline/pickup-queue/internal/model"
)

// Sentinel errors returned by the manager.  AlreadyQueued is not among
// them: a re-scan of a student that cannot advance is a normal result
// variant, not a failure.
var (
	// ErrNotFound means the referenced student, vehicle or entry does
	// not exist (or is not visible to the caller).
	ErrNotFound = errors.New("not found")

	// ErrNoStudents means a vehicle scan resolved to a vehicle with no
	// linked students.  No writes are performed; the caller is expected
	// to start the vehicle registration flow instead.
	ErrNoStudents = errors.New("no students registered for vehicle")

	// ErrUnauthorized means the actor may not operate on the target
	// entry (wrong parent, or staff of a different school).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned by Store implementations when a
	// transaction lost a serialization race (deadlock, lock timeout)
	// and may succeed if replayed.  The manager retries these itself.
	ErrConflict = errors.New("write conflict")

	// ErrTransient is surfaced to callers after the bounded conflict
	// retries are exhausted.  Callers never see raw store conflicts.
	ErrTransient = errors.New("transient store failure")
)

// Store opens transactions against the queue persistence layer.
type Store interface {
	// RunInTx executes fn inside one atomic transaction: either every
	// write made through the Tx commits, or none do.  Implementations
	// must return an error wrapping ErrConflict when the transaction
	// could not commit due to a concurrent writer.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of queue operations available inside one transaction.
//
// Reads that feed later writes (the per-student duplicate check and
// the per-school active count) must lock what they observe for the
// remainder of the transaction, so that two concurrent scans can never
// base their writes on the same snapshot.  This is what keeps queue
// positions unique and the duplicate guard race-free.
type Tx interface {
	// StudentByID returns the student record, or (nil, nil) when no
	// such student exists.
	StudentByID(ctx context.Context, studentID uint64) (*model.Student, error)

	// VehicleByID returns the vehicle record, or (nil, nil) when no
	// such vehicle exists.
	VehicleByID(ctx context.Context, vehicleID uint64) (*model.Vehicle, error)

	// VehicleStudents returns the students linked to a vehicle, in
	// stable (link creation) order.  An empty slice is not an error.
	VehicleStudents(ctx context.Context, vehicleID uint64) ([]model.Student, error)

	// ActiveEntryByStudent returns the student's waiting/called entry
	// and locks it, or (nil, nil) when the student is not queued.
	ActiveEntryByStudent(ctx context.Context, studentID uint64) (*model.QueueEntry, error)

	// ActiveCount returns the number of waiting/called entries for a
	// school, locking the counted set against concurrent inserts.
	ActiveCount(ctx context.Context, schoolID uint64) (int, error)

	// InsertEntries writes new queue entries.  When a single entry is
	// inserted its ID field is populated.
	InsertEntries(ctx context.Context, entries []*model.QueueEntry) error

	// EntryByID returns any entry (active or history) by primary key
	// and locks it, or (nil, nil) when absent.
	EntryByID(ctx context.Context, entryID uint64) (*model.QueueEntry, error)

	// AdvanceEntry moves an entry from fromStatus to toStatus, stamping
	// the transition time and the acting staff member.  It must fail
	// with ErrConflict when the entry is no longer in fromStatus.
	AdvanceEntry(ctx context.Context, entryID uint64, fromStatus, toStatus string, at time.Time, teacherID *uint64) error

	// DeleteEntry destroys an entry.
	DeleteEntry(ctx context.Context, entryID uint64) error

	// ShiftPositionsAfter decrements queue_position by one for every
	// active entry of the school whose position is greater than the
	// given one, restoring the dense 1..N sequence after a removal.
	ShiftPositionsAfter(ctx context.Context, schoolID uint64, position int) error
}

// ChangeEvent describes one committed queue mutation.  It is handed to
// the Notifier after the transaction commits so every viewer of the
// school room can re-fetch the queue snapshot.
type ChangeEvent struct {
	Kind      string    // added | called | picked_up | removed
	SchoolID  uint64    // school room the change belongs to
	StudentID uint64    // student affected (zero for batch summaries)
	Position  int       // position involved, when meaningful
	At        time.Time // commit-side timestamp of the change
}

// Notifier fans a committed queue change out to every connected viewer
// of the school room.  Delivery is best effort: the contract is that
// viewers eventually converge on the committed state, not that every
// intermediate event arrives.  Implementations must not fail the
// request path.
type Notifier interface {
	QueueChanged(ctx context.Context, ev ChangeEvent)
}

// CompletionEvent carries the details of a finished pickup for the
// durable history stream.
type CompletionEvent struct {
	EntryID     uint64     `json:"entry_id"`
	StudentID   uint64     `json:"student_id"`
	StudentName string     `json:"student_name"`
	SchoolID    uint64     `json:"school_id"`
	ParentID    uint64     `json:"parent_id"`
	TeacherID   *uint64    `json:"teacher_id,omitempty"`
	VehicleID   *uint64    `json:"vehicle_id,omitempty"`
	EnteredAt   time.Time  `json:"entered_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	PickedUpAt  time.Time  `json:"picked_up_at"`
}

// CompletionPublisher records finished pickups on a durable channel
// (message broker).  Like Notifier it is best effort from the request's
// point of view; errors are logged by implementations, not returned to
// parents standing at the gate.
type CompletionPublisher interface {
	PickupCompleted(ctx context.Context, ev CompletionEvent) error
}

package pickup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carline/pickup-queue/internal/model"
)

// maxConflictRetries bounds how many times a serialization conflict is
// replayed before the caller sees ErrTransient.
const maxConflictRetries = 3

// Action is the outcome of a scan as seen by the caller.
type Action string

const (
	ActionAdded         Action = "added"
	ActionCalled        Action = "called"
	ActionPickedUp      Action = "picked_up"
	ActionAlreadyQueued Action = "already_queued"
)

// Event kinds broadcast to school rooms.  They mirror the actions plus
// the removal case.
const (
	EventAdded    = "added"
	EventCalled   = "called"
	EventPickedUp = "picked_up"
	EventRemoved  = "removed"
)

// Actor identifies who is performing a queue operation.  SchoolID is
// the staff member's school binding and is zero for parents.
type Actor struct {
	ID       uint64
	Role     string
	SchoolID uint64
}

// EnqueueParams are the inputs of a single-student scan or manual add.
// SchoolID is optional; when zero the student's own school is used,
// and when set it must match (a badge scanned at the wrong school is
// rejected as not found).
type EnqueueParams struct {
	StudentID uint64
	SchoolID  uint64
	VehicleID *uint64
	Actor     Actor
}

// EnqueueResult reports what a scan did.  Position is the entry's
// current queue position (the freshly assigned one for added, the
// unchanged one for later transitions).
type EnqueueResult struct {
	Action      Action `json:"action"`
	EntryID     uint64 `json:"entry_id"`
	StudentID   uint64 `json:"student_id"`
	StudentName string `json:"student_name"`
	SchoolID    uint64 `json:"school_id"`
	Position    int    `json:"position"`
}

// VehicleScanParams are the inputs of a plate scan.  SchoolID carries
// the same meaning as on the single-student scan: zero means the
// students' own schools, non-zero pins the scan to one school and a
// linked student attending elsewhere rejects the scan as not found.
type VehicleScanParams struct {
	VehicleID uint64
	SchoolID  uint64
	Actor     Actor
}

// VehicleScanResult partitions the vehicle's students into those added
// by this scan and those that already held an active entry.  An empty
// Added with a populated AlreadyQueued is the "everyone is already in
// the queue" outcome, which callers render differently from a partial
// add.
type VehicleScanResult struct {
	Added         []uint64 `json:"added_student_ids"`
	AlreadyQueued []uint64 `json:"already_queued_student_ids"`

	entries []*model.QueueEntry // committed entries, for fan-out
}

// DequeueResult reports an explicit removal.
type DequeueResult struct {
	RemovedStudentName string `json:"removed_student_name"`
	SchoolID           uint64 `json:"school_id"`
	Position           int    `json:"position"`
}

// Manager owns all mutation of pickup queues.  It is safe for
// concurrent use; serialization of conflicting operations is delegated
// to the Store's transactions.
type Manager struct {
	store       Store
	notifier    Notifier
	completions CompletionPublisher // optional; nil disables the durable stream
	now         func() time.Time
}

// NewManager constructs a Manager.  store and notifier must be
// non-nil; completions may be nil when no durable history stream is
// configured.
func NewManager(store Store, notifier Notifier, completions CompletionPublisher) *Manager {
	if store == nil || notifier == nil {
		panic("nil dependency passed to NewManager")
	}
	return &Manager{
		store:       store,
		notifier:    notifier,
		completions: completions,
		// Whole seconds: the DATETIME columns hold second precision, so
		// truncating up front keeps the published completion event equal
		// to the committed row for the same instant.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// EnqueueOrAdvance implements the scan interaction model: the first
// scan of a student creates a waiting entry at the tail of the school's
// queue, the next scan calls the student, the next marks the pickup
// complete.  The duplicate check and the resulting write happen inside
// one transaction with the student's active entry locked, so a double
// tap can never create two active entries.
func (m *Manager) EnqueueOrAdvance(ctx context.Context, p EnqueueParams) (EnqueueResult, error) {
	var (
		res       EnqueueResult
		completed *CompletionEvent
	)
	err := m.runWithRetry(ctx, func(tx Tx) error {
		res = EnqueueResult{}
		completed = nil

		student, err := tx.StudentByID(ctx, p.StudentID)
		if err != nil {
			return err
		}
		if student == nil {
			return ErrNotFound
		}
		if p.SchoolID != 0 && p.SchoolID != student.SchoolID {
			return ErrNotFound
		}
		if err := authorizeStudent(p.Actor, student); err != nil {
			return err
		}

		res.StudentID = student.ID
		res.StudentName = student.FullName()
		res.SchoolID = student.SchoolID

		existing, err := tx.ActiveEntryByStudent(ctx, p.StudentID)
		if err != nil {
			return err
		}
		if existing == nil {
			// Position is the active count at write time; the locked
			// count read keeps two concurrent adds from sharing it.
			count, err := tx.ActiveCount(ctx, student.SchoolID)
			if err != nil {
				return err
			}
			entry := &model.QueueEntry{
				StudentID:     student.ID,
				ParentID:      student.ParentID,
				SchoolID:      student.SchoolID,
				VehicleID:     p.VehicleID,
				Status:        model.StatusWaiting,
				QueuePosition: count + 1,
				EnteredAt:     m.now(),
			}
			if err := tx.InsertEntries(ctx, []*model.QueueEntry{entry}); err != nil {
				return err
			}
			res.Action = ActionAdded
			res.EntryID = entry.ID
			res.Position = entry.QueuePosition
			return nil
		}

		next, ok := model.NextStatus(existing.Status)
		if !ok {
			// Unreachable for entries in the active set, but the guard
			// stays benign rather than creating a duplicate.
			res.Action = ActionAlreadyQueued
			res.EntryID = existing.ID
			res.Position = existing.QueuePosition
			return nil
		}

		at := m.now()
		teacherID := staffID(p.Actor)
		if err := tx.AdvanceEntry(ctx, existing.ID, existing.Status, next, at, teacherID); err != nil {
			return err
		}
		res.EntryID = existing.ID
		res.Position = existing.QueuePosition
		switch next {
		case model.StatusCalled:
			res.Action = ActionCalled
		case model.StatusPickedUp:
			res.Action = ActionPickedUp
			completed = &CompletionEvent{
				EntryID:     existing.ID,
				StudentID:   student.ID,
				StudentName: student.FullName(),
				SchoolID:    existing.SchoolID,
				ParentID:    existing.ParentID,
				TeacherID:   teacherID,
				VehicleID:   existing.VehicleID,
				EnteredAt:   existing.EnteredAt,
				CalledAt:    existing.CalledAt,
				PickedUpAt:  at,
			}
		}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}

	if res.Action != ActionAlreadyQueued {
		m.notifier.QueueChanged(ctx, ChangeEvent{
			Kind:      string(res.Action),
			SchoolID:  res.SchoolID,
			StudentID: res.StudentID,
			Position:  res.Position,
			At:        m.now(),
		})
	}
	if completed != nil && m.completions != nil {
		// Best effort: the pickup already committed; a broker outage
		// must not fail the scan.
		_ = m.completions.PickupCompleted(ctx, *completed)
	}
	return res, nil
}

// EnqueueVehicle batch-adds every student linked to a vehicle that is
// not already queued.  Positions for the batch are computed once from
// the active count at the start of the batch (N+1..N+k), and the whole
// batch commits or none of it does.  Students already queued are
// skipped and reported, not errors.
func (m *Manager) EnqueueVehicle(ctx context.Context, p VehicleScanParams) (VehicleScanResult, error) {
	var res VehicleScanResult
	err := m.runWithRetry(ctx, func(tx Tx) error {
		res = VehicleScanResult{}

		vehicle, err := tx.VehicleByID(ctx, p.VehicleID)
		if err != nil {
			return err
		}
		if vehicle == nil {
			return ErrNotFound
		}
		if !model.IsStaffRole(p.Actor.Role) && vehicle.ParentID != p.Actor.ID {
			return ErrUnauthorized
		}

		students, err := tx.VehicleStudents(ctx, p.VehicleID)
		if err != nil {
			return err
		}
		if len(students) == 0 {
			return ErrNoStudents
		}

		// The same per-student rules as the single scan apply: a plate
		// scanned at the wrong school is rejected, and staff may only
		// enqueue into their own school's queue.
		for i := range students {
			if p.SchoolID != 0 && students[i].SchoolID != p.SchoolID {
				return ErrNotFound
			}
			if err := authorizeStudent(p.Actor, &students[i]); err != nil {
				return err
			}
		}

		var pending []model.Student
		for _, s := range students {
			existing, err := tx.ActiveEntryByStudent(ctx, s.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				res.AlreadyQueued = append(res.AlreadyQueued, s.ID)
				continue
			}
			pending = append(pending, s)
		}
		if len(pending) == 0 {
			// Every linked student already holds an active entry; the
			// distinct result (no Added) lets callers say so.
			return nil
		}

		// One locked count per school at the start of the batch; later
		// entries of the same batch extend it locally so two students
		// in one scan can never share a position.
		counts := make(map[uint64]int)
		now := m.now()
		entries := make([]*model.QueueEntry, 0, len(pending))
		for _, s := range pending {
			if _, ok := counts[s.SchoolID]; !ok {
				n, err := tx.ActiveCount(ctx, s.SchoolID)
				if err != nil {
					return err
				}
				counts[s.SchoolID] = n
			}
			counts[s.SchoolID]++
			vid := vehicle.ID
			entries = append(entries, &model.QueueEntry{
				StudentID:     s.ID,
				ParentID:      s.ParentID,
				SchoolID:      s.SchoolID,
				VehicleID:     &vid,
				Status:        model.StatusWaiting,
				QueuePosition: counts[s.SchoolID],
				EnteredAt:     now,
			})
		}
		if err := tx.InsertEntries(ctx, entries); err != nil {
			return err
		}
		for _, e := range entries {
			res.Added = append(res.Added, e.StudentID)
		}
		res.entries = entries
		return nil
	})
	if err != nil {
		return VehicleScanResult{}, err
	}

	// One event per affected school room; viewers re-fetch the snapshot.
	notified := make(map[uint64]bool)
	for _, e := range res.entries {
		if notified[e.SchoolID] {
			continue
		}
		notified[e.SchoolID] = true
		m.notifier.QueueChanged(ctx, ChangeEvent{
			Kind:     EventAdded,
			SchoolID: e.SchoolID,
			At:       m.now(),
		})
	}
	return res, nil
}

// Dequeue destroys an active entry and closes the gap it leaves: every
// trailing active entry of the school moves up one position inside the
// same transaction, so no reader ever observes a hole in the sequence.
// Parents may remove their own entries; staff may remove any entry of
// their school.
func (m *Manager) Dequeue(ctx context.Context, entryID uint64, actor Actor) (DequeueResult, error) {
	var res DequeueResult
	err := m.runWithRetry(ctx, func(tx Tx) error {
		res = DequeueResult{}

		entry, err := tx.EntryByID(ctx, entryID)
		if err != nil {
			return err
		}
		if entry == nil || !model.IsActive(entry.Status) {
			// History rows cannot be dequeued.
			return ErrNotFound
		}
		if err := authorizeEntry(actor, entry); err != nil {
			return err
		}

		student, err := tx.StudentByID(ctx, entry.StudentID)
		if err != nil {
			return err
		}
		if student != nil {
			res.RemovedStudentName = student.FullName()
		}

		if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
			return err
		}
		if err := tx.ShiftPositionsAfter(ctx, entry.SchoolID, entry.QueuePosition); err != nil {
			return err
		}
		res.SchoolID = entry.SchoolID
		res.Position = entry.QueuePosition
		return nil
	})
	if err != nil {
		return DequeueResult{}, err
	}

	m.notifier.QueueChanged(ctx, ChangeEvent{
		Kind:     EventRemoved,
		SchoolID: res.SchoolID,
		Position: res.Position,
		At:       m.now(),
	})
	return res, nil
}

// runWithRetry replays fn when the store reports a serialization
// conflict, up to maxConflictRetries attempts.  fn must reset any
// captured result state at its top since it can run more than once.
func (m *Manager) runWithRetry(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = m.store.RunInTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// authorizeStudent enforces who may scan or manually add a student:
// the student's own parent, or staff bound to the student's school.
func authorizeStudent(actor Actor, student *model.Student) error {
	if model.IsStaffRole(actor.Role) {
		if actor.SchoolID != 0 && actor.SchoolID != student.SchoolID {
			return ErrUnauthorized
		}
		return nil
	}
	if actor.ID != student.ParentID {
		return ErrUnauthorized
	}
	return nil
}

// authorizeEntry enforces removal rights on an entry.
func authorizeEntry(actor Actor, entry *model.QueueEntry) error {
	if model.IsStaffRole(actor.Role) {
		if actor.SchoolID != 0 && actor.SchoolID != entry.SchoolID {
			return ErrUnauthorized
		}
		return nil
	}
	if actor.ID != entry.ParentID {
		return ErrUnauthorized
	}
	return nil
}

// staffID returns a pointer to the actor's ID when the actor is staff,
// for stamping teacher_id on transitions; parent self check-ins leave
// it nil.
func staffID(a Actor) *uint64 {
	if !model.IsStaffRole(a.Role) {
		return nil
	}
	id := a.ID
	return &id
}

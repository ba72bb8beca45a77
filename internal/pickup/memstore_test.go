package pickup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carline/pickup-queue/internal/model"
)

// memStore is an in-memory Store for exercising the manager without a
// database.  One mutex serializes whole transactions, which gives the
// same guarantee the SQL store gets from row locks: no two transactions
// interleave their reads and writes.
type memStore struct {
	mu sync.Mutex

	students map[uint64]*model.Student
	vehicles map[uint64]*model.Vehicle
	links    map[uint64][]uint64 // vehicle id -> student ids in link order
	entries  map[uint64]*model.QueueEntry
	nextID   uint64

	conflicts   int // transactions to fail with ErrConflict before succeeding
	insertFails int // InsertEntries calls to fail mid-transaction
}

func newMemStore() *memStore {
	return &memStore{
		students: make(map[uint64]*model.Student),
		vehicles: make(map[uint64]*model.Vehicle),
		links:    make(map[uint64][]uint64),
		entries:  make(map[uint64]*model.QueueEntry),
	}
}

func (s *memStore) addStudent(id, parentID, schoolID uint64, first, last string) *model.Student {
	st := &model.Student{ID: id, ParentID: parentID, SchoolID: schoolID, FirstName: first, LastName: last}
	s.students[id] = st
	return st
}

func (s *memStore) addVehicle(id, parentID uint64, plate string) *model.Vehicle {
	v := &model.Vehicle{ID: id, ParentID: parentID, LicensePlate: plate}
	s.vehicles[id] = v
	return v
}

func (s *memStore) link(vehicleID, studentID uint64) {
	s.links[vehicleID] = append(s.links[vehicleID], studentID)
}

// activeBySchool returns the school's active entries in position order.
func (s *memStore) activeBySchool(schoolID uint64) []*model.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.QueueEntry
	for _, e := range s.entries {
		if e.SchoolID == schoolID && model.IsActive(e.Status) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuePosition < out[j].QueuePosition })
	return out
}

func (s *memStore) entry(id uint64) *model.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (s *memStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflicts > 0 {
		s.conflicts--
		return fmt.Errorf("deadlock found when trying to get lock: %w", ErrConflict)
	}

	// Snapshot entries for rollback; students/vehicles are read-only in
	// manager transactions.
	snapshot := make(map[uint64]*model.QueueEntry, len(s.entries))
	for id, e := range s.entries {
		cp := *e
		snapshot[id] = &cp
	}
	savedNext := s.nextID

	if err := fn(&memTx{s: s}); err != nil {
		s.entries = snapshot
		s.nextID = savedNext
		return err
	}
	return nil
}

// memTx operates directly on the store maps; the store mutex is held
// for the whole transaction.
type memTx struct {
	s *memStore
}

func (t *memTx) StudentByID(_ context.Context, studentID uint64) (*model.Student, error) {
	st, ok := t.s.students[studentID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (t *memTx) VehicleByID(_ context.Context, vehicleID uint64) (*model.Vehicle, error) {
	v, ok := t.s.vehicles[vehicleID]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (t *memTx) VehicleStudents(_ context.Context, vehicleID uint64) ([]model.Student, error) {
	var out []model.Student
	for _, sid := range t.s.links[vehicleID] {
		if st, ok := t.s.students[sid]; ok {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (t *memTx) ActiveEntryByStudent(_ context.Context, studentID uint64) (*model.QueueEntry, error) {
	for _, e := range t.s.entries {
		if e.StudentID == studentID && model.IsActive(e.Status) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) ActiveCount(_ context.Context, schoolID uint64) (int, error) {
	n := 0
	for _, e := range t.s.entries {
		if e.SchoolID == schoolID && model.IsActive(e.Status) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertEntries(_ context.Context, entries []*model.QueueEntry) error {
	if t.s.insertFails > 0 {
		t.s.insertFails--
		return fmt.Errorf("deadlock found when trying to get lock: %w", ErrConflict)
	}
	for _, e := range entries {
		t.s.nextID++
		e.ID = t.s.nextID
		cp := *e
		t.s.entries[e.ID] = &cp
	}
	return nil
}

func (t *memTx) EntryByID(_ context.Context, entryID uint64) (*model.QueueEntry, error) {
	e, ok := t.s.entries[entryID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (t *memTx) AdvanceEntry(_ context.Context, entryID uint64, fromStatus, toStatus string, at time.Time, teacherID *uint64) error {
	e, ok := t.s.entries[entryID]
	if !ok || e.Status != fromStatus {
		return fmt.Errorf("entry %d left %s: %w", entryID, fromStatus, ErrConflict)
	}
	e.Status = toStatus
	switch toStatus {
	case model.StatusCalled:
		ts := at
		e.CalledAt = &ts
	case model.StatusPickedUp:
		ts := at
		e.PickedUpAt = &ts
	}
	if teacherID != nil {
		id := *teacherID
		e.TeacherID = &id
	}
	return nil
}

func (t *memTx) DeleteEntry(_ context.Context, entryID uint64) error {
	delete(t.s.entries, entryID)
	return nil
}

func (t *memTx) ShiftPositionsAfter(_ context.Context, schoolID uint64, position int) error {
	for _, e := range t.s.entries {
		if e.SchoolID == schoolID && model.IsActive(e.Status) && e.QueuePosition > position {
			e.QueuePosition--
		}
	}
	return nil
}

// recordingNotifier captures change events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (n *recordingNotifier) QueueChanged(_ context.Context, ev ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) all() []ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChangeEvent, len(n.events))
	copy(out, n.events)
	return out
}

// recordingPublisher captures completion events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []CompletionEvent
}

func (p *recordingPublisher) PickupCompleted(_ context.Context, ev CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) all() []CompletionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompletionEvent, len(p.events))
	copy(out, p.events)
	return out
}

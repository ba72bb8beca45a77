package pickup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carline/pickup-queue/internal/model"
)

func newTestManager(store *memStore) (*Manager, *recordingNotifier, *recordingPublisher) {
	notifier := &recordingNotifier{}
	pub := &recordingPublisher{}
	return NewManager(store, notifier, pub), notifier, pub
}

func parentActor(id uint64) Actor { return Actor{ID: id, Role: model.RoleParent} }
func staffActor(id, schoolID uint64) Actor {
	return Actor{ID: id, Role: model.RoleStaff, SchoolID: schoolID}
}

func TestEnqueueAssignsDensePositions(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	store.addStudent(2, 11, 1, "Ben", "Reed")
	store.addStudent(3, 12, 1, "Cleo", "Marsh")
	m, notifier, _ := newTestManager(store)

	for i, tc := range []struct {
		student uint64
		parent  uint64
	}{{1, 10}, {2, 11}, {3, 12}} {
		res, err := m.EnqueueOrAdvance(context.Background(), EnqueueParams{
			StudentID: tc.student,
			Actor:     parentActor(tc.parent),
		})
		require.NoError(t, err)
		assert.Equal(t, ActionAdded, res.Action)
		assert.Equal(t, i+1, res.Position)
	}

	active := store.activeBySchool(1)
	require.Len(t, active, 3)
	for i, e := range active {
		assert.Equal(t, i+1, e.QueuePosition)
		assert.Equal(t, model.StatusWaiting, e.Status)
	}

	events := notifier.all()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, EventAdded, ev.Kind)
		assert.Equal(t, uint64(1), ev.SchoolID)
	}
}

func TestScanWalksLifecycle(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, notifier, pub := newTestManager(store)
	ctx := context.Background()
	staff := staffActor(50, 1)

	res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, res.Action)
	assert.Equal(t, 1, res.Position)
	entryID := res.EntryID

	res, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, ActionCalled, res.Action)
	assert.Equal(t, entryID, res.EntryID)

	e := store.entry(entryID)
	require.NotNil(t, e)
	assert.Equal(t, model.StatusCalled, e.Status)
	require.NotNil(t, e.CalledAt)
	require.NotNil(t, e.TeacherID)
	assert.Equal(t, uint64(50), *e.TeacherID)

	res, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, ActionPickedUp, res.Action)

	e = store.entry(entryID)
	require.NotNil(t, e)
	assert.Equal(t, model.StatusPickedUp, e.Status)
	require.NotNil(t, e.PickedUpAt)
	assert.Empty(t, store.activeBySchool(1), "picked_up entries leave the active set")

	completions := pub.all()
	require.Len(t, completions, 1)
	assert.Equal(t, entryID, completions[0].EntryID)
	assert.Equal(t, "Ada Stone", completions[0].StudentName)
	require.NotNil(t, completions[0].TeacherID)
	assert.Equal(t, uint64(50), *completions[0].TeacherID)

	kinds := make([]string, 0, 3)
	for _, ev := range notifier.all() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{EventAdded, EventCalled, EventPickedUp}, kinds)

	// The history row no longer blocks a fresh pickup cycle.
	res, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, res.Action)
	assert.Equal(t, 1, res.Position)
	assert.NotEqual(t, entryID, res.EntryID)
}

func TestParentScanLeavesTeacherUnset(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)

	e := store.entry(res.EntryID)
	require.NotNil(t, e)
	assert.Equal(t, model.StatusCalled, e.Status)
	assert.Nil(t, e.TeacherID, "parent self check-in must not stamp teacher_id")
}

func TestEnqueueAuthorization(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	_, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(99)})
	assert.ErrorIs(t, err, ErrUnauthorized, "another parent may not scan the student")

	_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: staffActor(50, 2)})
	assert.ErrorIs(t, err, ErrUnauthorized, "staff of another school may not scan the student")

	_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 404, Actor: parentActor(10)})
	assert.ErrorIs(t, err, ErrNotFound)

	// A badge scanned at the wrong school is rejected, not enqueued
	// elsewhere.
	_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, SchoolID: 2, Actor: parentActor(10)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVehicleScanBatches(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	store.addStudent(2, 10, 1, "Ben", "Stone")
	store.addStudent(3, 10, 1, "Cleo", "Stone")
	store.addStudent(4, 11, 1, "Dan", "Reed")
	store.addVehicle(7, 10, "AB123CD")
	store.link(7, 1)
	store.link(7, 2)
	store.link(7, 3)
	m, notifier, _ := newTestManager(store)
	ctx := context.Background()

	// Someone else is already waiting, and one linked student holds an
	// active entry: the batch starts at position 3.
	_, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 4, Actor: parentActor(11)})
	require.NoError(t, err)
	_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)

	res, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, SchoolID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, res.Added)
	assert.Equal(t, []uint64{1}, res.AlreadyQueued)

	active := store.activeBySchool(1)
	require.Len(t, active, 4)
	for i, e := range active {
		assert.Equal(t, i+1, e.QueuePosition, "positions stay dense and unique")
	}
	for _, e := range active {
		if e.StudentID == 2 || e.StudentID == 3 {
			require.NotNil(t, e.VehicleID)
			assert.Equal(t, uint64(7), *e.VehicleID)
			assert.Greater(t, e.QueuePosition, 2)
		}
	}

	// One fan-out event for the whole batch, not one per student.
	added := 0
	for _, ev := range notifier.all() {
		if ev.Kind == EventAdded && ev.StudentID == 0 {
			added++
		}
	}
	assert.Equal(t, 1, added)
}

func TestVehicleScanAllAlreadyQueued(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	store.addVehicle(7, 10, "AB123CD")
	store.link(7, 1)
	m, notifier, _ := newTestManager(store)
	ctx := context.Background()

	_, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	before := len(notifier.all())

	res, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, Actor: parentActor(10)})
	require.NoError(t, err, "everyone already queued is an outcome, not an error")
	assert.Empty(t, res.Added)
	assert.Equal(t, []uint64{1}, res.AlreadyQueued)
	assert.Len(t, notifier.all(), before, "no writes, no fan-out")
	require.Len(t, store.activeBySchool(1), 1)
}

func TestVehicleScanErrors(t *testing.T) {
	store := newMemStore()
	store.addVehicle(7, 10, "AB123CD")
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	_, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 404, Actor: parentActor(10)})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, Actor: parentActor(99)})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, Actor: parentActor(10)})
	assert.ErrorIs(t, err, ErrNoStudents)
}

func TestVehicleScanSchoolScoping(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	store.addVehicle(7, 10, "AB123CD")
	store.link(7, 1)
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	// Staff of another school cannot batch-enqueue into school 1.
	_, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, Actor: staffActor(50, 2)})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, store.activeBySchool(1))

	// A plate scanned at the wrong school is rejected like a badge
	// scanned at the wrong school.
	_, err = m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, SchoolID: 2, Actor: parentActor(10)})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, store.activeBySchool(1))

	res, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, SchoolID: 1, Actor: staffActor(50, 1)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, res.Added)
}

func TestVehicleScanTransientFailureAddsNothing(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	store.addStudent(2, 10, 1, "Ben", "Stone")
	store.addVehicle(7, 10, "AB123CD")
	store.link(7, 1)
	store.link(7, 2)
	m, notifier, _ := newTestManager(store)
	ctx := context.Background()

	store.conflicts = maxConflictRetries
	_, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, SchoolID: 1, Actor: parentActor(10)})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Empty(t, store.activeBySchool(1), "a failed batch adds nothing")
	assert.Empty(t, notifier.all(), "nothing committed, nothing fanned out")

	// The next scan succeeds cleanly once the store stops conflicting.
	res, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, SchoolID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, res.Added)
	require.Len(t, store.activeBySchool(1), 2)
}

func TestVehicleScanRollsBackOnMidBatchFailure(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	store.addStudent(2, 10, 1, "Ben", "Stone")
	store.addVehicle(7, 10, "AB123CD")
	store.link(7, 1)
	store.link(7, 2)
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	// The batch insert itself fails after the reads succeeded; the
	// retry must start from a clean slate with no phantom rows.
	store.insertFails = 1
	res, err := m.EnqueueVehicle(ctx, VehicleScanParams{VehicleID: 7, SchoolID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, res.Added)
	assert.Empty(t, res.AlreadyQueued, "rolled-back rows must not count as queued on replay")

	active := store.activeBySchool(1)
	require.Len(t, active, 2)
	assert.Equal(t, 1, active[0].QueuePosition)
	assert.Equal(t, 2, active[1].QueuePosition)
}

func TestDequeueRenumbersTrailingEntries(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	store.addStudent(2, 11, 1, "Ben", "Reed")
	store.addStudent(3, 12, 1, "Cleo", "Marsh")
	m, notifier, _ := newTestManager(store)
	ctx := context.Background()

	var middleID uint64
	for _, tc := range []struct {
		student uint64
		parent  uint64
	}{{1, 10}, {2, 11}, {3, 12}} {
		res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: tc.student, Actor: parentActor(tc.parent)})
		require.NoError(t, err)
		if tc.student == 2 {
			middleID = res.EntryID
		}
	}

	res, err := m.Dequeue(ctx, middleID, parentActor(11))
	require.NoError(t, err)
	assert.Equal(t, "Ben Reed", res.RemovedStudentName)
	assert.Equal(t, 2, res.Position)

	active := store.activeBySchool(1)
	require.Len(t, active, 2)
	assert.Equal(t, uint64(1), active[0].StudentID)
	assert.Equal(t, 1, active[0].QueuePosition)
	assert.Equal(t, uint64(3), active[1].StudentID)
	assert.Equal(t, 2, active[1].QueuePosition, "the gap closes inside the same transaction")

	last := notifier.all()[len(notifier.all())-1]
	assert.Equal(t, EventRemoved, last.Kind)
	assert.Equal(t, uint64(1), last.SchoolID)
}

func TestDequeueAuthorization(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)

	_, err = m.Dequeue(ctx, res.EntryID, parentActor(99))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = m.Dequeue(ctx, res.EntryID, staffActor(50, 2))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = m.Dequeue(ctx, 404, parentActor(10))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Dequeue(ctx, res.EntryID, staffActor(50, 1))
	require.NoError(t, err, "staff of the school may remove any of its entries")
}

func TestDequeueRejectsHistoryRows(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
		require.NoError(t, err)
	}

	_, err = m.Dequeue(ctx, res.EntryID, parentActor(10))
	assert.ErrorIs(t, err, ErrNotFound, "completed pickups are history, not removable")
}

func TestConflictRetryAndTransientFailure(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	// Two conflicts are absorbed by the bounded retry.
	store.conflicts = 2
	res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, res.Action)

	// Conflicts on every attempt surface as ErrTransient, never as a
	// raw conflict.
	store.conflicts = maxConflictRetries
	_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, errors.Is(err, ErrConflict), "raw store conflicts never reach callers")
}

func TestManagerStampsWholeSecondTimes(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, _, pub := newTestManager(store)
	ctx := context.Background()

	res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
		require.NoError(t, err)
	}

	// The stored row and the published event describe the same instant,
	// so neither may carry precision the database cannot hold.
	e := store.entry(res.EntryID)
	require.NotNil(t, e)
	assert.Zero(t, e.EnteredAt.Nanosecond())
	require.NotNil(t, e.CalledAt)
	assert.Zero(t, e.CalledAt.Nanosecond())
	require.NotNil(t, e.PickedUpAt)
	assert.Zero(t, e.PickedUpAt.Nanosecond())

	completions := pub.all()
	require.Len(t, completions, 1)
	assert.Zero(t, completions[0].PickedUpAt.Nanosecond())
	assert.Equal(t, *e.PickedUpAt, completions[0].PickedUpAt)
}

func TestConcurrentDoubleTapCreatesOneEntry(t *testing.T) {
	store := newMemStore()
	store.addStudent(1, 10, 1, "Ada", "Stone")
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	actions := make(chan Action, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: 1, Actor: parentActor(10)})
			if err == nil {
				actions <- res.Action
			}
		}()
	}
	wg.Wait()
	close(actions)

	active := store.activeBySchool(1)
	require.Len(t, active, 1, "a double tap must never create two active entries")

	// The serialized transactions see each other: one scan adds, the
	// other advances.
	var got []Action
	for a := range actions {
		got = append(got, a)
	}
	require.Len(t, got, 2)
	assert.Contains(t, got, ActionAdded)
	assert.Contains(t, got, ActionCalled)
}

func TestConcurrentEnqueuesKeepPositionsUnique(t *testing.T) {
	store := newMemStore()
	for i := uint64(1); i <= 8; i++ {
		store.addStudent(i, 100+i, 1, "Kid", "Number")
	}
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := uint64(1); i <= 8; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, err := m.EnqueueOrAdvance(ctx, EnqueueParams{StudentID: id, Actor: parentActor(100 + id)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active := store.activeBySchool(1)
	require.Len(t, active, 8)
	seen := make(map[int]bool)
	for _, e := range active {
		assert.False(t, seen[e.QueuePosition], "duplicate position %d", e.QueuePosition)
		seen[e.QueuePosition] = true
		assert.GreaterOrEqual(t, e.QueuePosition, 1)
		assert.LessOrEqual(t, e.QueuePosition, 8)
	}
}

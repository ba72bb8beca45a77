package model

import "time"

// School is the tenant boundary for pickup queues.  Every queue entry,
// student and staff account belongs to exactly one school, and queue
// change events fan out per school room.
type School struct {
	ID        uint64    // schools.id
	Name      string    // schools.name
	Address   string    // schools.address
	CreatedAt time.Time // schools.created_at
	UpdatedAt time.Time // schools.updated_at
}

package model

import (
	"strings"
	"time"
)

// Student represents a child registered by a parent for pickup at a
// school.  The QRCode column holds the opaque token encoded in the
// student's printed QR badge; scanning the badge resolves back to this
// record.
//
// Fields:
//  ID        – primary key identifier.
//  ParentID  – user who registered the student.
//  SchoolID  – school the student attends.
//  FirstName – given name.
//  LastName  – family name.
//  Grade     – free-form grade label (e.g. "3B").
//  QRCode    – unique token printed on the student's badge.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Student struct {
	ID        uint64    // students.id
	ParentID  uint64    // students.parent_id
	SchoolID  uint64    // students.school_id
	FirstName string    // students.first_name
	LastName  string    // students.last_name
	Grade     string    // students.grade
	QRCode    string    // students.qr_code
	CreatedAt time.Time // students.created_at
	UpdatedAt time.Time // students.updated_at
}

// FullName joins the first and last name, skipping empty parts.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

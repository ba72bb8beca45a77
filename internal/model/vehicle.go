package model

import "time"

// Vehicle represents a car registered by a parent.  A vehicle is linked
// to zero or more students through the vehicle_students table; scanning
// the plate batch-adds every linked student that is not already queued.
//
// Fields:
//  ID           – primary key identifier.
//  ParentID     – user who registered the vehicle.
//  LicensePlate – normalized plate string, unique.
//  Description  – free-form note (colour, make) shown to staff.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Vehicle struct {
	ID           uint64    // vehicles.id
	ParentID     uint64    // vehicles.parent_id
	LicensePlate string    // vehicles.license_plate
	Description  string    // vehicles.description
	CreatedAt    time.Time // vehicles.created_at
	UpdatedAt    time.Time // vehicles.updated_at
}

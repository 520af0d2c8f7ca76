// Package model defines the core domain models used throughout the application.
package model

import "time"

// AnalyticalAccount is a cost center that budget lines and document lines are attributed to.
// Inactive accounts stay valid for historical lookups but cannot receive new allocations.
type AnalyticalAccount struct {
	CreatedAt time.Time
	Code      string
	Name      string
	ID        int64
	IsActive  bool
}

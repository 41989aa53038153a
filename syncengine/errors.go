package syncengine

import "errors"

var (
	ErrParentNotFound  = errors.New("parent not resolvable")
	ErrUnknownTable    = errors.New("unknown sync table")
	ErrUnknownParent   = errors.New("unknown parent column")
	ErrNoTenant        = errors.New("tenant is required")
	ErrCycleInProgress = errors.New("sync cycle already in progress")
	ErrStopping        = errors.New("sync engine is stopping")
)

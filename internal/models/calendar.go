package models

import "time"

// Calendar is a calendar visible to the authenticated account.
type Calendar struct {
	ID              string
	Name            string
	ForegroundColor string
	BackgroundColor string
	Selected        bool // false when the provider reports it hidden or deleted
	TimeZone        string
	AccessRole      string // owner, writer, reader or freeBusyReader
	Primary         bool
}

// Color is a foreground/background pair from the provider palette.
type Color struct {
	Background string
	Foreground string
}

// SyncStatus is the state of the sync orchestrator.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// SyncState is a snapshot of the sync orchestrator's status.
type SyncState struct {
	Status       SyncStatus
	LastSync     time.Time // zero until the first successful sync
	NextSync     time.Time // zero when auto-sync is not scheduled
	ErrorMessage string
}

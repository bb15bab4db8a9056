package types

import "fmt"

// SyncStatus is the tracked state of a synchronized path
type SyncStatus string

const (
	// SyncStatusNA means the path is not tracked yet
	SyncStatusNA          SyncStatus = ""
	SyncStatusPending     SyncStatus = "pending"
	SyncStatusSynced      SyncStatus = "synced"
	SyncStatusConflicting SyncStatus = "conflicting"
)

// String returns a printable form, "na" for an untracked path
func (s SyncStatus) String() string {
	if s == SyncStatusNA {
		return "na"
	}
	return string(s)
}

// ParseSyncStatus parses the persisted or user supplied form of a status
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch s {
	case "", "na":
		return SyncStatusNA, nil
	case string(SyncStatusPending), string(SyncStatusSynced), string(SyncStatusConflicting):
		return SyncStatus(s), nil
	}
	return SyncStatusNA, fmt.Errorf("unknown sync status: %q", s)
}

// SyncAction describes what happened to a path
type SyncAction string

const (
	ActionAdded   SyncAction = "added"
	ActionUpdated SyncAction = "updated"
	ActionDeleted SyncAction = "deleted"
)

// SyncDirection is the direction a change travelled
type SyncDirection string

const (
	DirectionLocalToRemote SyncDirection = "local_to_remote"
	DirectionRemoteToLocal SyncDirection = "remote_to_local"
)

// FileStatusEvent is published whenever a synchronized path changes state
type FileStatusEvent struct {
	Path      string        `json:"path"`
	Status    SyncStatus    `json:"status"`
	Action    SyncAction    `json:"action"`
	Direction SyncDirection `json:"direction"`
}

// ServiceState is the coarse health of a sync session
type ServiceState string

const (
	ServiceStateInitializing           ServiceState = "initializing"
	ServiceStateRunning                ServiceState = "running"
	ServiceStateAuthenticationRequired ServiceState = "authentication_required"
	ServiceStateTemporaryUnavailable   ServiceState = "temporary_unavailable"
	ServiceStateDisabled               ServiceState = "disabled"
)

// ServiceStatus is published on every service state transition
type ServiceStatus struct {
	State       ServiceState `json:"state"`
	Description string       `json:"description"`
}

// UsageAndQuota reports remote storage consumption
type UsageAndQuota struct {
	UsedBytes  int64 `json:"usedBytes"`
	QuotaBytes int64 `json:"quotaBytes"`
}

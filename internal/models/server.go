package models

import "time"

// ServerStatus is derived on read from the server's latest inventory, so
// registry state never drifts from inventory truth.
type ServerStatus string

const (
	ServerStatusOffline  ServerStatus = "offline"
	ServerStatusReboot   ServerStatus = "reboot"
	ServerStatusSecurity ServerStatus = "security"
	ServerStatusUpdates  ServerStatus = "updates"
	ServerStatusUpToDate ServerStatus = "up_to_date"
)

// Server is a managed host. Created on first agent contact, mutated by
// inventory reports, soft-retained while jobs reference it.
type Server struct {
	ID             int64      `json:"id"`
	Hostname       string     `json:"hostname"`
	IP             string     `json:"ip"`
	OSName         string     `json:"os_name"`
	OSVersion      string     `json:"os_version"`
	KernelVersion  string     `json:"kernel_version"`
	PackageManager string     `json:"package_manager"`
	LastUpdateTime *time.Time `json:"last_update_time"`
	LastSeen       *time.Time `json:"last_seen"`
	AgentToken     string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Update is one available package update inside an inventory snapshot.
// Immutable once recorded; superseded by the next report, never mutated.
type Update struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	CurrentVersion   string `json:"current_version"`
	CandidateVersion string `json:"candidate_version"`
	IsSecurity       bool   `json:"is_security"`
}

// InventoryReport is an append-only snapshot of a server's state as reported
// by its agent. The latest snapshot is the server's current truth.
type InventoryReport struct {
	ID                   int64      `json:"id"`
	ServerID             int64      `json:"server_id"`
	CollectedAt          time.Time  `json:"collected_at"`
	Hostname             string     `json:"hostname"`
	IP                   string     `json:"ip"`
	OSName               string     `json:"os_name"`
	OSVersion            string     `json:"os_version"`
	KernelVersion        string     `json:"kernel_version"`
	PackageManager       string     `json:"package_manager"`
	LastUpdateTime       *time.Time `json:"last_update_time"`
	RebootRequired       bool       `json:"reboot_required"`
	UpdatesCount         int        `json:"updates_count"`
	SecurityUpdatesCount int        `json:"security_updates_count"`
	Updates              []Update   `json:"updates"`
}

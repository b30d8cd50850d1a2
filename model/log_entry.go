package model

import "gorm.io/plugin/soft_delete"

// HistoryEntry records one completed edge for kiln's observability
// store. It is never consulted by DependencyScan; CommandLog and
// DepsLog remain the sole sources of dirtiness truth.
type HistoryEntry struct {
	ID int64 `json:"id" gorm:"primarykey"`
	// Space-joined output paths of the edge.
	Output string `json:"output" gorm:"index:idx_output"`
	// Lowercase hex CommandHash, as recorded in CommandLog.
	CommandHash string `json:"commandHash" gorm:"index:idx_command_hash"`
	Success     bool   `json:"success"`
	StartMS     int64  `json:"startMs"`
	EndMS       int64  `json:"endMs"`
	// ContentDigest of the rspfile payload, hex-encoded; empty when the
	// rule has no rspfile.
	ContentDigest string `json:"contentDigest"`
	Instance      string `json:"instance" gorm:"index:idx_instance"`
	CreatedAt     int64  `json:"createdAt"`

	Inputs []*HistoryInput `json:"inputs" gorm:"foreignKey:EntryID;references:ID"`

	Deleted soft_delete.DeletedAt `gorm:"softDelete:flag;default:0"`
}

func (HistoryEntry) TableName() string {
	return "history_entry"
}

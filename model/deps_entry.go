package model

import "gorm.io/plugin/soft_delete"

// HistoryInput is one input path recorded against a HistoryEntry, kept
// for "kiln -t history" to show what an edge actually read.
type HistoryInput struct {
	ID       int64  `gorm:"primarykey"`
	FilePath string `gorm:"index:idx_file_path"`
	EntryID  int64  `json:"entryId" gorm:"index:idx_entry_id"`

	Deleted soft_delete.DeletedAt `gorm:"softDelete:flag;default:0"`
}

func (HistoryInput) TableName() string {
	return "history_input"
}

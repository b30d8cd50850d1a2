// Package history is kiln's SQLite-backed build-history store: an
// observability record of completed edges, never consulted to decide
// whether an edge is dirty. Grounded in the teacher's
// ninja-rbe/sqlitedb_init.go, log_entry_service.go and
// deps_entry_service.go, reworked from the teacher's remote-cache
// schema (params/input hash lookups) down to a plain append log.
package history

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/kiln-build/kiln/model"
)

// Store wraps the gorm/SQLite handle used to record and query build
// history.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the history database at path and
// migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.HistoryEntry{}, &model.HistoryInput{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordEdge appends one completed edge. A failure to write is never
// fatal to the build; callers should log and continue, per
// SPEC_FULL.md's "best-effort" requirement for this store.
func (s *Store) RecordEdge(output, commandHash string, success bool, startMS, endMS int64, contentDigest string, inputs []string, instance string) error {
	entry := &model.HistoryEntry{
		Output:        output,
		CommandHash:   commandHash,
		Success:       success,
		StartMS:       startMS,
		EndMS:         endMS,
		ContentDigest: contentDigest,
		Instance:      instance,
		CreatedAt:     time.Now().Unix(),
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if len(inputs) == 0 {
			return nil
		}
		rows := make([]*model.HistoryInput, len(inputs))
		for i, in := range inputs {
			rows[i] = &model.HistoryInput{FilePath: in, EntryID: entry.ID}
		}
		return tx.Create(&rows).Error
	})
}

// RecentForOutput returns the most recent history rows for output,
// newest first, for "kiln -t history".
func (s *Store) RecentForOutput(output string, limit int) ([]*model.HistoryEntry, error) {
	var rows []*model.HistoryEntry
	q := s.db.Model(&model.HistoryEntry{}).Where("output = ?", output).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// InputsFor returns the recorded input paths for a history entry.
func (s *Store) InputsFor(entryID int64) ([]*model.HistoryInput, error) {
	var rows []*model.HistoryInput
	if err := s.db.Where("entry_id = ?", entryID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Recompact runs SQLite's VACUUM to rebuild and shrink the database
// file; soft-deleted rows stay in their tables. Grounded in the teacher's
// clean_expired_service.go's periodic cleanup, exposed here as the
// "-t recompact" tool's implementation for the history DB.
func (s *Store) Recompact() error {
	return s.db.Exec("VACUUM").Error
}

package store

import (
	"fmt"

	"github.com/mbertin/ardoise/internal/model"
)

// ExportHistory builds the export-ready history document: deployment
// identity from metadata plus every stored entry, newest first.
func (s *Store) ExportHistory(date string) (model.HistoryExport, error) {
	info, err := s.GetSchoolInfo()
	if err != nil {
		return model.HistoryExport{}, fmt.Errorf("school info: %w", err)
	}
	entries, err := s.ListHistory()
	if err != nil {
		return model.HistoryExport{}, fmt.Errorf("list history: %w", err)
	}
	return model.HistoryExport{
		School:     info.School,
		Class:      info.Class,
		Date:       date,
		NumEntries: len(entries),
		Entries:    entries,
	}, nil
}

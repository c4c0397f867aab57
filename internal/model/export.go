package model

// HistoryExport is the top-level JSON structure for history export.
type HistoryExport struct {
	School     string         `json:"school"`
	Class      string         `json:"class"`
	Date       string         `json:"date"`
	NumEntries int            `json:"num_entries"`
	Entries    []HistoryEntry `json:"entries"`
}

// SchoolInfo holds deployment identity stored as metadata rows.
type SchoolInfo struct {
	School string `json:"school"`
	Class  string `json:"class"`
}

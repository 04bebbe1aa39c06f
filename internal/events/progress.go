package events

// ImportStatus is the stage of a dataset image import
type ImportStatus string

const (
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportError      ImportStatus = "error"
)

// ImportProgress reports how far the import of one dataset got
type ImportProgress struct {
	DatasetID   string       `json:"datasetId"`
	Total       int          `json:"total"`
	Processed   int          `json:"processed"`
	CurrentFile string       `json:"currentFile"`
	Status      ImportStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
}

// Done reports whether no further progress follows
func (p ImportProgress) Done() bool {
	return p.Status == ImportCompleted || p.Status == ImportError
}

// ImportBus carries import progress keyed by dataset ID
type ImportBus = Bus[ImportProgress]

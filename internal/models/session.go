package models

// LoadStatus represents the status of a batch load.
type LoadStatus string

const (
	LoadStatusPending  LoadStatus = "pending"
	LoadStatusParsing  LoadStatus = "parsing"
	LoadStatusComplete LoadStatus = "complete"
	LoadStatusError    LoadStatus = "error"
)

// FileError is a parse problem attributed to one input file.
type FileError struct {
	Path  string      `json:"path"`
	Error *ParseError `json:"error"`
	Fatal bool        `json:"fatal"` // the whole file was skipped
}

// LoadSummary describes the outcome of loading a batch of tester files.
type LoadSummary struct {
	ID               string      `json:"id"`
	Status           LoadStatus  `json:"status"`
	Product          string      `json:"product,omitempty"`
	Files            int         `json:"files"`
	Records          int         `json:"records"`
	Accepted         int         `json:"accepted"`
	Rejected         int         `json:"rejected"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
	Errors           []FileError `json:"errors,omitempty"`
}

// NewLoadSummary creates a new LoadSummary in pending status.
func NewLoadSummary(id string) *LoadSummary {
	return &LoadSummary{
		ID:     id,
		Status: LoadStatusPending,
		Errors: make([]FileError, 0),
	}
}

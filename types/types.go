package types

// Outcome is the result of processing one candidate image
type Outcome string

const (
	OutcomeAdmitted Outcome = "admitted"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// AdmissionRecord describes one admitted image and the output produced for it
type AdmissionRecord struct {
	ID         int64  `json:"id"`
	SourcePath string `json:"source_path"`
	OutputName string `json:"output_name"`
	Hash       string `json:"hash"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Size       int64  `json:"size"`
	CreatedAt  string `json:"created_at"`
}

// ScanStats holds catalog and output directory counters
type ScanStats struct {
	Admissions  int
	Sources     int
	Rejected    int
	LogLines    int
	OutputFiles int
}

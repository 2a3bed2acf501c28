package model

// ResultStatus is derived by the backend and never recomputed locally.
type ResultStatus string

const (
	ResultPassed  ResultStatus = "passed"
	ResultPartial ResultStatus = "partial"
	ResultFailed  ResultStatus = "failed"
)

// Category is one row of the per-category breakdown. Slice order is display
// order only.
type Category struct {
	Name   string `json:"name"`
	Passed int    `json:"passed"`
	Total  int    `json:"total"`
}

// ValidationResult is the outcome of validating one completed file.
type ValidationResult struct {
	FileID          string       `json:"fileId"`
	Filename        string       `json:"filename"`
	Score           float64      `json:"score"`
	TotalCriteria   int          `json:"totalCriteria"`
	PassedCriteria  int          `json:"passedCriteria"`
	Status          ResultStatus `json:"status"`
	ProcessedTime   string       `json:"processedTime,omitempty"`
	Categories      []Category   `json:"categories"`
	Issues          []string     `json:"issues"`
	Recommendations []string     `json:"recommendations"`
	Strengths       []string     `json:"strengths"`
}

// Clone returns a deep copy so snapshots never share backing arrays with the
// controller's state.
func (r ValidationResult) Clone() ValidationResult {
	out := r
	if r.Categories != nil {
		out.Categories = append(make([]Category, 0, len(r.Categories)), r.Categories...)
	}
	out.Issues = cloneStrings(r.Issues)
	out.Recommendations = cloneStrings(r.Recommendations)
	out.Strengths = cloneStrings(r.Strengths)
	return out
}

// cloneStrings keeps nil and empty distinct; empty lists encode as [].
func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

// Snapshot is an immutable view of everything the controller tracks.
type Snapshot struct {
	Files   []FileRecord       `json:"files"`
	Results []ValidationResult `json:"results"`
	Stored  []StoredFile       `json:"stored"`
}

// File looks a record up by id.
func (s Snapshot) File(id string) (FileRecord, bool) {
	for _, f := range s.Files {
		if f.ID == id {
			return f, true
		}
	}
	return FileRecord{}, false
}

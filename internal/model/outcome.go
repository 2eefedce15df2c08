package model

// Status is the terminal state of a processed row.
type Status string

const (
	StatusWritten       Status = "written"        // image fetched, resized and written
	StatusExists        Status = "exists"         // file present, existence check only
	StatusExistsCorrect Status = "exists-correct" // file present with the target dimensions
	StatusSkipNoSrc     Status = "skip-no-src"    // empty source cell
	StatusError         Status = "error"          // any per-row failure
)

// Outcome is the result of processing a single row.
type Outcome struct {
	Task   ImageTask
	Status Status
	Reason string // set only for StatusError
}

// Failed builds an error outcome for task.
func Failed(task ImageTask, err error) Outcome {
	return Outcome{Task: task, Status: StatusError, Reason: err.Error()}
}

// ManifestEntry is one element of the manifest JSON array.
type ManifestEntry struct {
	ID     string `json:"id,omitempty"`
	Src    string `json:"src,omitempty"`
	File   string `json:"file,omitempty"`
	Status string `json:"status"`
}

// Entry renders the outcome as a manifest entry.
func (o Outcome) Entry() ManifestEntry {
	if o.Status == StatusSkipNoSrc {
		return ManifestEntry{Status: string(o.Status)}
	}

	status := string(o.Status)
	if o.Status == StatusError {
		status = "error: " + o.Reason
	}

	return ManifestEntry{
		ID:     o.Task.ID,
		Src:    o.Task.SourceURL,
		File:   o.Task.OutputPath,
		Status: status,
	}
}

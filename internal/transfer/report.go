package transfer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ReportFileName is written into the destination root after every run.
const ReportFileName = "ifetch-report.json"

// FileResult records the outcome of one file in a run.
type FileResult struct {
	Path       string `json:"path"`
	Dest       string `json:"dest"`
	Size       int64  `json:"size"`
	Downloaded int64  `json:"downloaded"`
	Chunks     int    `json:"chunks"`
	Resumed    bool   `json:"resumed"`
	Skipped    bool   `json:"skipped"`
	Archived   bool   `json:"archived,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID      string       `json:"run_id"`
	Source     string       `json:"source"`
	Dest       string       `json:"dest"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Files      []FileResult `json:"files"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	SkippedN   int          `json:"skipped"`
	Bytes      int64        `json:"bytes"`
}

func newReport(source, dest string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Source:    source,
		Dest:      dest,
		StartedAt: time.Now().UTC(),
	}
}

func (r *Report) add(fr FileResult) {
	r.Files = append(r.Files, fr)
	switch {
	case fr.Error != "":
		r.Failed++
	case fr.Skipped:
		r.SkippedN++
	default:
		r.Succeeded++
	}
	r.Bytes += fr.Downloaded
}

// Write persists the report into root as ifetch-report.json.
func (r *Report) Write(root string) error {
	r.FinishedAt = time.Now().UTC()
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, ReportFileName), data, 0o644)
}

package models

import (
	"fmt"
	"time"
)

// DateRange is a closed interval of calendar days
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastDays returns a range covering the past n days up to today
func LastDays(n int) DateRange {
	now := time.Now().Truncate(24 * time.Hour)
	return DateRange{From: now.AddDate(0, 0, -n), To: now}
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))
}

// ExtractionStatus is the lifecycle of an extraction job
type ExtractionStatus string

const (
	ExtractionQueued    ExtractionStatus = "queued"
	ExtractionRunning   ExtractionStatus = "running"
	ExtractionSucceeded ExtractionStatus = "succeeded"
	ExtractionFailed    ExtractionStatus = "failed"
)

// ExtractionJob is one request to pull data for (tenant, platform, range, dataset)
type ExtractionJob struct {
	ID       string      `json:"id"`
	Tenant   string      `json:"tenant"`
	Platform string      `json:"platform"`
	Dataset  DatasetType `json:"dataset"`
	Range    DateRange   `json:"range"`

	Status       ExtractionStatus `json:"status"`
	ArtifactPath string           `json:"artifact_path,omitempty"`
	Error        string           `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExportArtifact is what an extraction produced: either a downloaded file or
// rows scraped directly from the rendered table.
type ExportArtifact struct {
	Platform string       `json:"platform"`
	Dataset  DatasetType  `json:"dataset"`
	Range    DateRange    `json:"range"`
	Format   ExportFormat `json:"format"`

	// FilePath is set for file exports
	FilePath string `json:"file_path,omitempty"`

	// Rows is set for direct table scrapes: positional cells per row,
	// already ordered per the platform's documented column order.
	Rows [][]string `json:"rows,omitempty"`

	// Columns is the logical column order for Rows
	Columns []string `json:"columns,omitempty"`

	RetrievedAt time.Time `json:"retrieved_at"`
}

// InMemory reports whether the artifact carries scraped rows rather than a file
func (a *ExportArtifact) InMemory() bool {
	return a.FilePath == ""
}

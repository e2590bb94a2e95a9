package models

import (
	"fmt"
	"strings"
)

// SearchJob is one issue to search for. Queue messages carry exactly one job.
type SearchJob struct {
	ComicID     string `json:"comic_id"`
	VolumeID    int    `json:"volume_id"`
	VolumeName  string `json:"volume_name"`
	IssueNumber string `json:"issue_number"`
	CoverDate   string `json:"cover_date,omitempty"`
	Year        string `json:"year,omitempty"`
}

// Key identifies the job independently of delivery, so redeliveries map to the same key.
func (j SearchJob) Key() string {
	return fmt.Sprintf("%s:%d:%s:%s", j.ComicID, j.VolumeID, strings.ToLower(strings.TrimSpace(j.IssueNumber)), j.Year)
}

// NewSearchJob builds the job for one issue of a wanted item.
func NewSearchJob(item WantedItem, issue Issue) SearchJob {
	return SearchJob{
		ComicID:     item.ID,
		VolumeID:    item.Wanted.Volume.ID,
		VolumeName:  item.Wanted.Volume.Name,
		IssueNumber: issue.Number(),
		CoverDate:   issue.CoverDate,
		Year:        issue.InferredYear(),
	}
}

const (
	SourceAirDCPP  = "airdcpp"
	SourceProwlarr = "prowlarr"
)

// PartialResult is a candidate reported by one of the search backends.
type PartialResult struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Source   string                 `json:"source,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RankedResult is the winning candidate of a completed search.
type RankedResult struct {
	PartialResult
	Score float64 `json:"score"`
	Query string  `json:"query"`
}

// ResultMessage is the payload emitted on the results stream and the live broadcast.
type ResultMessage struct {
	Query         string       `json:"query"`
	Result        RankedResult `json:"result"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Job           *SearchJob   `json:"job,omitempty"`
}

package models

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedPage is returned when a catalog page is missing one of its expected fields.
var ErrMalformedPage = errors.New("malformed wanted page")

// WantedItem is a library comic flagged for acquisition.
type WantedItem struct {
	ID     string `json:"_id"`
	Wanted Wanted `json:"wanted"`
}

// Wanted describes which parts of a volume are wanted.
type Wanted struct {
	EntireVolume bool    `json:"markEntireVolumeAsWanted"`
	Volume       Volume  `json:"volume"`
	Issues       []Issue `json:"issues,omitempty"`
}

type Volume struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Issue is a single sub-unit of a volume. ComicVine and the library disagree on the
// issue number key, so both spellings are accepted.
type Issue struct {
	IssueNumber    string `json:"issueNumber,omitempty"`
	IssueNumberAlt string `json:"issue_number,omitempty"`
	CoverDate      string `json:"coverDate,omitempty"`
	Year           string `json:"year,omitempty"`
}

// Number returns the issue number, preferring issueNumber over issue_number.
func (i Issue) Number() string {
	if n := strings.TrimSpace(i.IssueNumber); n != "" {
		return n
	}
	return strings.TrimSpace(i.IssueNumberAlt)
}

var coverDateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// InferredYear returns the cover date year, or the explicit year when the cover date is unusable.
func (i Issue) InferredYear() string {
	date := strings.TrimSpace(i.CoverDate)
	for _, layout := range coverDateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return strconv.Itoa(t.Year())
		}
	}
	return strings.TrimSpace(i.Year)
}

// WantedPage is one page of the wanted-items listing.
type WantedPage struct {
	Items []WantedItem `json:"items"`
	Page  int          `json:"page"`
	Pages int          `json:"pages"`
	Total int          `json:"total"`
}

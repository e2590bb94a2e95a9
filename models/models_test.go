package models

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestIssueNumberPrefersCamelCase(t *testing.T) {
	if got := (Issue{IssueNumber: "12", IssueNumberAlt: "13"}).Number(); got != "12" {
		t.Fatalf("expected 12, got %q", got)
	}
	if got := (Issue{IssueNumberAlt: " 7 "}).Number(); got != "7" {
		t.Fatalf("expected fallback 7, got %q", got)
	}
}

func TestIssueInferredYear(t *testing.T) {
	cases := map[string]Issue{
		"2020": {CoverDate: "2020-05-01"},
		"1999": {CoverDate: "1999-11"},
		"1987": {CoverDate: "", Year: "1987"},
		"2001": {CoverDate: "not a date", Year: "2001"},
		"":     {},
	}
	for want, issue := range cases {
		if got := issue.InferredYear(); got != want {
			t.Fatalf("issue %+v: expected year %q, got %q", issue, want, got)
		}
	}
}

func TestSearchJobRoundTrip(t *testing.T) {
	item := WantedItem{ID: "c1", Wanted: Wanted{Volume: Volume{ID: 42, Name: "Batman"}}}
	job := NewSearchJob(item, Issue{IssueNumber: "12", CoverDate: "2020-05-01"})
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back SearchJob
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(job, back) {
		t.Fatalf("round trip mismatch: %+v vs %+v", job, back)
	}
	if back.Year != "2020" || back.VolumeName != "Batman" || back.IssueNumber != "12" {
		t.Fatalf("unexpected job fields: %+v", back)
	}
}

func TestSearchJobKeyStableAcrossCopies(t *testing.T) {
	a := SearchJob{ComicID: "c1", VolumeID: 1, IssueNumber: "12 ", Year: "2020"}
	b := SearchJob{ComicID: "c1", VolumeID: 1, IssueNumber: "12", Year: "2020"}
	if a.Key() != b.Key() {
		t.Fatalf("expected equal keys, got %q and %q", a.Key(), b.Key())
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")
	var err error = EnumerationError{Page: 3, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected EnumerationError to unwrap to cause")
	}
	err = PublishError{Query: "q", Attempts: 3, Err: cause}
	var pe PublishError
	if !errors.As(err, &pe) || pe.Attempts != 3 {
		t.Fatalf("expected PublishError via errors.As")
	}
}

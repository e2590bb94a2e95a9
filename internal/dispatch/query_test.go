package dispatch

import (
	"testing"

	"github.com/mohammad-safakhou/comicsearch/models"
)

func TestNormalizeQuery(t *testing.T) {
	cases := map[string]string{
		"Batman: Year One!":         "Batman Year One",
		"  Spider-Man   2099  ":     "SpiderMan 2099",
		"X-Men #12 (2020)":          "XMen 12 2020",
		"Astérix & Obélix":          "Astérix Obélix",
		"under_score\tand\nnewline": "under_score and newline",
		"!!!":                       "",
	}
	for in, want := range cases {
		if got := NormalizeQuery(in); got != want {
			t.Fatalf("NormalizeQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildQuery(t *testing.T) {
	job := models.SearchJob{VolumeName: "The Walking Dead", IssueNumber: "100", Year: "2012"}
	if got := BuildQuery(job); got != "The Walking Dead 100 2012" {
		t.Fatalf("unexpected query %q", got)
	}
	job.Year = ""
	if got := BuildQuery(job); got != "The Walking Dead 100" {
		t.Fatalf("missing year must leave no gap, got %q", got)
	}
}

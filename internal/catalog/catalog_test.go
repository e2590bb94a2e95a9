package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/comicsearch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetWantedItemsDecodesPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/library/getComicsMarkedAsWanted", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"items":[{"_id":"c1","wanted":{"markEntireVolumeAsWanted":false,"volume":{"id":7,"name":"Batman"},"issues":[{"issueNumber":"12","coverDate":"2020-05-01"}]}}],"page":2,"pages":3,"total":21}`))
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL+"/", time.Second)
	page, err := c.GetWantedItems(context.Background(), 2, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Batman", page.Items[0].Wanted.Volume.Name)
	assert.Equal(t, "12", page.Items[0].Wanted.Issues[0].Number())
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, 21, page.Total)
}

func TestGetWantedItemsRejectsMalformedPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[],"page":1}`))
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, time.Second).GetWantedItems(context.Background(), 1, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrMalformedPage))
	assert.Contains(t, err.Error(), "pages")
	assert.Contains(t, err.Error(), "total")
}

func TestGetIssuesForVolume(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/comicvine/getIssuesForVolume", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("volumeId"))
		_, _ = w.Write([]byte(`[{"issue_number":"1","coverDate":"2011-09-01"},{"issue_number":"2","coverDate":"2011-10-01"}]`))
	}))
	defer ts.Close()

	issues, err := NewHTTPClient(ts.URL, time.Second).GetIssuesForVolume(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "2", issues[1].Number())
	assert.Equal(t, "2011", issues[1].InferredYear())
}

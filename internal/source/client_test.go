package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedPayload = `{
	"results": [
		{
			"id": "CVE-2024-1234",
			"summary": "Crash in request parsing",
			"details": "A crafted request causes a crash.",
			"modified": "2024-05-01T10:00:00Z",
			"references": [{"type": "ADVISORY", "url": "https://example.com/advisory"}],
			"affected": [{"package": {"name": "Apache", "ecosystem": "generic"}}],
			"database_specific": {"cvss_score": 7.5}
		},
		{
			"id": "GHSA-xxxx-yyyy-zzzz",
			"aliases": ["CVE-2024-5678"],
			"summary": "Token leak"
		},
		{
			"id": "GHSA-aaaa-bbbb-cccc",
			"summary": "No CVE assigned yet"
		}
	]
}`

func TestFetchSince(t *testing.T) {
	var gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/changed", r.URL.Path)
		gotSince = r.URL.Query().Get("since")
		fmt.Fprint(w, feedPayload)
	}))
	defer server.Close()

	client := NewClient(server.URL, "osv")
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	raws, err := client.FetchSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T00:00:00Z", gotSince)

	require.Len(t, raws, 2, "entries without a CVE identifier are dropped")

	first := raws[0]
	assert.Equal(t, "osv", first.Source)
	assert.Equal(t, "CVE-2024-1234", first.CVEID)
	require.NotNil(t, first.Title)
	assert.Equal(t, "Crash in request parsing", *first.Title)
	require.NotNil(t, first.Score)
	assert.Equal(t, 7.5, *first.Score)
	assert.Equal(t, []string{"https://example.com/advisory"}, first.References)
	assert.Equal(t, []string{"apache"}, first.Vendors)

	second := raws[1]
	assert.Equal(t, "CVE-2024-5678", second.CVEID, "CVE alias wins over the native id")
	assert.Nil(t, second.Score)
}

func TestFetchSinceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "osv")
	_, err := client.FetchSince(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetchSinceBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	client := NewClient(server.URL, "osv")
	_, err := client.FetchSince(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

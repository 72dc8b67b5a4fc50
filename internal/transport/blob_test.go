package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBlobClientFetchBlob(t *testing.T) {
	storageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("blobAccessToken") != "blob-tok" {
			t.Errorf("missing blobAccessToken query param: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte("raw-blob-bytes"))
	}))
	defer storageServer.Close()

	sysServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blobaccesstokenservice" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(blobAccessTokenResponse{
			BlobAccessInfo: blobAccessInfo{
				BlobAccessToken: "blob-tok",
				Servers:         []blobServer{{URL: storageServer.URL}},
			},
		})
	}))
	defer sysServer.Close()

	sys := New(sysServer.URL, 5*time.Second).WithAccessToken("sess-tok")
	sys.Retry = RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	bc := NewBlobClient(sys)
	data, err := bc.FetchBlob(context.Background(), "maildetailsblob", "archive1", "blob1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "raw-blob-bytes" {
		t.Fatalf("got %q", data)
	}
}

func TestBlobClientNoServersOffered(t *testing.T) {
	sysServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(blobAccessTokenResponse{})
	}))
	defer sysServer.Close()

	sys := New(sysServer.URL, 5*time.Second)
	sys.Retry = RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	bc := NewBlobClient(sys)
	_, err := bc.FetchBlob(context.Background(), "maildetailsblob", "archive1", "blob1")
	if err == nil {
		t.Fatal("expected an error when no blob servers are offered")
	}
}

package testing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dl-alexandre/gsyncfs/internal/api"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/option"
)

// TestContext creates a standard test context
func TestContext() context.Context {
	return context.Background()
}

// TestRequestContext creates a standard request context for testing
func TestRequestContext() *types.RequestContext {
	return &types.RequestContext{
		Profile:           "test-profile",
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       types.RequestTypeListOrSearch,
		TraceID:           "test-trace-id",
	}
}

// TestFile creates a Drive file resource with a single parent
func TestFile(id, title, parentID, modified string) *drive.File {
	return &drive.File{
		Id:           id,
		Title:        title,
		MimeType:     "text/plain",
		ModifiedDate: modified,
		Parents:      []*drive.ParentReference{{Id: parentID}},
	}
}

// TestFolder creates a Drive folder resource
func TestFolder(id, title, parentID string) *drive.File {
	f := TestFile(id, title, parentID, "")
	f.MimeType = "application/vnd.google-apps.folder"
	return f
}

// NewDriveService starts an httptest server running handler and returns a
// Drive v2 service pointed at it. The server is closed on test cleanup.
func NewDriveService(t *testing.T, handler http.Handler) *drive.Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/drive/v2/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService() error = %v", err)
	}
	return svc
}

// NewClient wraps NewDriveService in an api.Client without retries
func NewClient(t *testing.T, handler http.Handler) *api.Client {
	t.Helper()
	return api.NewClient(NewDriveService(t, handler), 0, 1, nil)
}

// WriteJSON encodes v as the response body
func WriteJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// AssertNoError is a helper to fail the test if error is not nil
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: %v", msgAndArgs[0], err)
		}
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual is a helper to fail the test if two values are not equal
func AssertEqual(t *testing.T, got, want interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if got != want {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: got %v, want %v", msgAndArgs[0], got, want)
		}
		t.Fatalf("got %v, want %v", got, want)
	}
}

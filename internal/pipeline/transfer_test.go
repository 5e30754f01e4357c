package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentryfrogg/engine/internal/httpclient"
)

var errNoSuchProject = errors.New("no such project")

func TestHTTPToSFTPSurfacesHydrationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "payload")
	}))
	defer srv.Close()

	e := &Engine{
		http:     httpclient.New(nil, nil),
		projects: &fakeProjectStore{err: errNoSuchProject},
	}
	_, err := e.HTTPToSFTP(context.Background(), HTTPToSFTPRequest{
		ProjectName: "proj", URL: srv.URL, RemotePath: "/tmp/out",
	})
	if err == nil {
		t.Fatal("expected hydration error to surface")
	}
}

func TestSFTPToHTTPSurfacesHydrationError(t *testing.T) {
	e := &Engine{
		http:     httpclient.New(nil, nil),
		projects: &fakeProjectStore{err: errNoSuchProject},
	}
	_, err := e.SFTPToHTTP(context.Background(), SFTPToHTTPRequest{
		ProjectName: "proj", RemotePath: "/tmp/in", URL: "http://example.invalid",
	})
	if err == nil {
		t.Fatal("expected hydration error to surface")
	}
}

func TestPostgresToSFTPSurfacesHydrationError(t *testing.T) {
	e := &Engine{
		projects: &fakeProjectStore{err: errNoSuchProject},
	}
	_, err := e.PostgresToSFTP(context.Background(), PostgresToSFTPRequest{
		ProjectName: "proj", Table: "events", RemotePath: "/tmp/out",
	})
	if err == nil {
		t.Fatal("expected hydration error to surface")
	}
}

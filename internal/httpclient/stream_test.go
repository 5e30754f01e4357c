package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenStreamReturnsLiveBodyForLargePayload(t *testing.T) {
	const size = 1 << 20 // 1 MiB, large enough to prove no full-body buffering assumption leaks through
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, size))
	}))
	defer srv.Close()

	c := New(newFakeProfileStore(), nil)
	resp, err := c.OpenStream(context.Background(), StreamRequest{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != size {
		t.Fatalf("copied %d bytes, want %d", n, size)
	}
}

func TestOpenStreamRejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(newFakeProfileStore(), nil)
	_, err := c.OpenStream(context.Background(), StreamRequest{Method: "GET", URL: srv.URL})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestOpenStreamSendsRequestBody(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received = string(b)
	}))
	defer srv.Close()

	c := New(newFakeProfileStore(), nil)
	resp, err := c.OpenStream(context.Background(), StreamRequest{Method: "POST", URL: srv.URL, Body: strings.NewReader("payload")})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	resp.Body.Close()
	if received != "payload" {
		t.Fatalf("server received %q, want payload", received)
	}
}

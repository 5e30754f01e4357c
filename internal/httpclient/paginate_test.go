package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPaginatePageStopsOnEmptyPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		page := r.URL.Query().Get("page")
		switch page {
		case "1":
			w.Write([]byte(`{"items":[1,2]}`))
		case "2":
			w.Write([]byte(`{"items":[3]}`))
		default:
			w.Write([]byte(`{"items":[]}`))
		}
	}))
	defer srv.Close()

	c := New(newFakeProfileStore(), nil)
	result, err := c.Paginate(context.Background(), PaginateRequest{
		Request:     Request{Method: "GET", URL: srv.URL},
		Type:        PagePagination,
		ItemsPath:   "items",
		StopOnEmpty: true,
	})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(result.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(result.Items))
	}
	if result.Pages != 3 {
		t.Fatalf("pages = %d, want 3 (two non-empty + the empty stop page)", result.Pages)
	}
}

func TestPaginateRespectsMaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[1]}`))
	}))
	defer srv.Close()

	c := New(newFakeProfileStore(), nil)
	result, err := c.Paginate(context.Background(), PaginateRequest{
		Request:   Request{Method: "GET", URL: srv.URL},
		Type:      PagePagination,
		ItemsPath: "items",
		MaxPages:  2,
	})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if result.Pages != 2 {
		t.Fatalf("pages = %d, want 2", result.Pages)
	}
}

package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/pgmanager"
)

func TestPostgresToHTTPStreamsExportAsRequestBody(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var receivedBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
	}))
	defer srv.Close()

	e := &Engine{
		http: httpclient.New(nil, nil),
		pg:   pgmanager.NewWithPool("pg1", db),
	}
	res, err := e.PostgresToHTTP(context.Background(), PostgresToHTTPRequest{
		PostgresProfile: "pg1", Table: "events", Format: IngestJSONL, BatchSize: 10,
		URL: srv.URL, Method: "POST",
	})
	if err != nil {
		t.Fatalf("PostgresToHTTP: %v", err)
	}
	if res.RowsWritten != 2 {
		t.Fatalf("RowsWritten = %d, want 2", res.RowsWritten)
	}
	if receivedBody == "" {
		t.Fatal("expected non-empty request body on server side")
	}
}

func TestBuildExportRequestMapsCSVFormat(t *testing.T) {
	req := buildExportRequest("t", "id", "id asc", nil, IngestCSV, 50, 100)
	if req.Format != pgmanager.ExportCSV {
		t.Fatalf("Format = %v, want ExportCSV", req.Format)
	}
	if req.Table != "t" || req.ColumnsSQL != "id" || req.OrderBySQL != "id asc" || req.BatchSize != 50 || req.MaxRows != 100 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestBuildExportRequestDefaultsToJSONL(t *testing.T) {
	req := buildExportRequest("t", "", "", nil, IngestJSONL, 0, 0)
	if req.Format != pgmanager.ExportJSONL {
		t.Fatalf("Format = %v, want ExportJSONL", req.Format)
	}
}

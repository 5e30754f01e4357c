package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/pgmanager"
)

func TestParseJSONLRowsBatchesAndStopsAtMaxRows(t *testing.T) {
	input := strings.NewReader("{\"a\":1}\n\n{\"a\":2}\n{\"a\":3}\n")
	var batches [][]pgmanager.OrderedFields
	total, err := parseJSONLRows(input, 2, 1, func(b []pgmanager.OrderedFields) error {
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		t.Fatalf("parseJSONLRows: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
}

func TestParseJSONLRowsRejectsNonObjectLine(t *testing.T) {
	input := strings.NewReader("[1,2,3]\n")
	_, err := parseJSONLRows(input, 0, 10, func([]pgmanager.OrderedFields) error { return nil })
	if err == nil {
		t.Fatal("expected error for non-object JSONL line")
	}
}

func TestParseCSVRowsUsesFirstRowAsHeaderByDefault(t *testing.T) {
	input := strings.NewReader("name,age\nalice,30\nbob,40\n")
	var got []pgmanager.OrderedFields
	total, err := parseCSVRows(input, nil, 0, 10, func(b []pgmanager.OrderedFields) error {
		got = append(got, b...)
		return nil
	})
	if err != nil {
		t.Fatalf("parseCSVRows: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if got[0].Values["name"] != "alice" || got[1].Values["age"] != "40" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestParseCSVRowsUsesSuppliedColumns(t *testing.T) {
	input := strings.NewReader("alice,30\n")
	var got []pgmanager.OrderedFields
	_, err := parseCSVRows(input, []string{"name", "age"}, 0, 10, func(b []pgmanager.OrderedFields) error {
		got = append(got, b...)
		return nil
	})
	if err != nil {
		t.Fatalf("parseCSVRows: %v", err)
	}
	if len(got) != 1 || got[0].Values["name"] != "alice" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestHTTPToPostgresStreamsResponseIntoBatchedInserts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n"))
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "events"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "events"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &Engine{
		http: httpclient.New(nil, nil),
		pg:   pgmanager.NewWithPool("pg1", db),
	}

	res, err := e.HTTPToPostgres(context.Background(), HTTPToPostgresRequest{
		URL: srv.URL, PostgresProfile: "pg1", Table: "events", Format: IngestJSONL, BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("HTTPToPostgres: %v", err)
	}
	if res.RowsWritten != 3 {
		t.Fatalf("RowsWritten = %d, want 3", res.RowsWritten)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHTTPToPostgresRequiresTable(t *testing.T) {
	e := &Engine{http: httpclient.New(nil, nil)}
	_, err := e.HTTPToPostgres(context.Background(), HTTPToPostgresRequest{URL: "http://example.invalid"})
	if err == nil {
		t.Fatal("expected error for missing table")
	}
}

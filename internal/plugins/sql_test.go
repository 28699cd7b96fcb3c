package plugins

import (
	"encoding/json"
	"testing"
)

func TestSQLQueryRoundTrip(t *testing.T) {
	if _, err := sqlQuery(nil, [][]byte{[]byte("CREATE TABLE IF NOT EXISTS widgets (name TEXT, qty INTEGER)")}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := sqlQuery(nil, [][]byte{[]byte("INSERT INTO widgets (name, qty) VALUES (?, ?)"), []byte("bolt"), []byte("7")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	out, err := sqlQuery(nil, [][]byte{[]byte("SELECT name, qty FROM widgets WHERE name = ?"), []byte("bolt")})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one output buffer, got %d", len(out))
	}
	var rows []map[string]any
	if err := json.Unmarshal(out[0], &rows); err != nil {
		t.Fatalf("unmarshal result rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "bolt" {
		t.Fatalf("rows = %v, want one row naming bolt", rows)
	}
}

func TestSQLQueryRequiresQueryArgument(t *testing.T) {
	if _, err := sqlQuery(nil, nil); err == nil {
		t.Fatal("expected sqlQuery to reject an empty argument list")
	}
}

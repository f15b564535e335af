package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"statement-relay/internal/dto"
	"statement-relay/internal/parser"

	"go.uber.org/zap"
)

const statementCSV = "Posting Date,Details,Description,Amount,Balance\n" +
	"01/05/2024,DEBIT,GROCERY STORE,-52.10,947.90\n" +
	"01/06/2024,CREDIT,PAYROLL,2000.00,2947.90\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.csv"), statementCSV)
	writeFile(t, filepath.Join(dir, "nested", "a.PDF"), "%PDF")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignore me")
	single := filepath.Join(t.TempDir(), "single.csv")
	writeFile(t, single, statementCSV)

	files, err := collectFiles([]string{dir, single})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join(dir, "b.csv"),
		filepath.Join(dir, "nested", "a.PDF"),
		single,
	}
	wantSet := map[string]bool{}
	for _, f := range want {
		wantSet[f] = true
	}
	if len(files) != len(want) {
		t.Fatalf("files = %v", files)
	}
	for _, f := range files {
		if !wantSet[f] {
			t.Errorf("unexpected file %s", f)
		}
	}

	if _, err := collectFiles([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestPrintStatements(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "jan.csv")
	bad := filepath.Join(dir, "empty.csv")
	writeFile(t, good, statementCSV)
	writeFile(t, bad, "")

	factory := parser.NewFactory(nil, parser.Options{}, zap.NewNop())
	var out bytes.Buffer
	if err := printStatements(context.Background(), factory, []string{bad, good}, &out, zap.NewNop()); err != nil {
		t.Fatal(err)
	}

	var got []dto.TransactionResponse
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(got) != 2 {
		t.Fatalf("got %d transactions", len(got))
	}
	if got[0].Date != "2024-01-05" || got[0].Type != "expense" || got[1].Type != "income" {
		t.Errorf("transactions = %+v", got)
	}
}

func TestParseFile_UnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.ofx")
	writeFile(t, path, "OFXHEADER:100")

	factory := parser.NewFactory(nil, parser.Options{}, zap.NewNop())
	if _, err := parseFile(context.Background(), factory, path); err == nil {
		t.Fatal("expected an unsupported type error")
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	state, err := loadState(path)
	if err != nil {
		t.Fatalf("missing state file should be empty: %v", err)
	}
	state.Users["u1"] = map[string]IngestedFile{
		"jan.csv": {FilePath: "jan.csv", FileHash: "abc", Transactions: 2, IngestedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	if err := saveState(path, state); err != nil {
		t.Fatal(err)
	}

	loaded, err := loadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Users["u1"]["jan.csv"]; got.FileHash != "abc" || got.Transactions != 2 {
		t.Errorf("loaded = %+v", got)
	}

	writeFile(t, path, "{broken")
	if _, err := loadState(path); err == nil {
		t.Error("expected error for a corrupt state file")
	}
}

func TestCalculateFileHash(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	writeFile(t, a, statementCSV)
	writeFile(t, b, statementCSV+"01/07/2024,DEBIT,FUEL,-30.00,2917.90\n")

	ha, err := calculateFileHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := calculateFileHash(b)
	if ha == "" || ha == hb {
		t.Errorf("hashes %q and %q", ha, hb)
	}
}

package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStockDocumentsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_stock_documents.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no stock documents migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS stock_documents",
		"CHECK (kind IN ('receipt', 'issue', 'transfer'))",
		"CHECK (status IN ('draft', 'pending_approval', 'approved', 'in_transit', 'completed', 'cancelled'))",
		"CREATE TABLE IF NOT EXISTS document_lines",
		"FOREIGN KEY (document_id) REFERENCES stock_documents(id) ON DELETE CASCADE",
		"CHECK (declared_qty > 0)",
		"DROP TABLE IF EXISTS stock_documents",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValid(t *testing.T) {
	entries, err := os.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no migrations found")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := os.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		content := string(data)
		if !strings.Contains(content, "-- +goose Up") {
			t.Errorf("%s missing goose Up header", entry.Name())
		}
		if !strings.Contains(content, "-- +goose Down") {
			t.Errorf("%s missing goose Down header", entry.Name())
		}
	}
}

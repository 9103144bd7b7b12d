package protocol_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"aide/pkg/protocol"
)

func openSchemaDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema DDL: %v", err)
	}
	return db
}

func TestSchemaIsIdempotent(t *testing.T) {
	db := openSchemaDB(t)
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("second exec of schema DDL: %v", err)
	}
}

func TestSchemaCreatesExpectedTables(t *testing.T) {
	db := openSchemaDB(t)

	expected := []string{
		"trust_scores", "approvals", "activities", "reflexions",
		"turns", "messages", "mailbox", "calendar_events",
	}
	for _, table := range expected {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestSchemaTrustScoreUniqueTriple(t *testing.T) {
	db := openSchemaDB(t)

	insert := `INSERT INTO trust_scores (user_id, agent_type, action_type, created_at, updated_at)
		VALUES ('u', 'email', 'send', 0, 0)`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Fatal("expected unique constraint violation on duplicate triple")
	}
}

func TestSchemaTrustScoreChecks(t *testing.T) {
	db := openSchemaDB(t)

	tests := []struct {
		name string
		sql  string
	}{
		{"level above 3", `INSERT INTO trust_scores (user_id, agent_type, action_type, level, created_at, updated_at) VALUES ('u','email','a',4,0,0)`},
		{"level below 1", `INSERT INTO trust_scores (user_id, agent_type, action_type, level, created_at, updated_at) VALUES ('u','email','b',0,0,0)`},
		{"successes exceed total", `INSERT INTO trust_scores (user_id, agent_type, action_type, successful_actions, total_actions, created_at, updated_at) VALUES ('u','email','c',2,1,0,0)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Exec(tt.sql); err == nil {
				t.Fatal("expected CHECK constraint violation")
			}
		})
	}
}

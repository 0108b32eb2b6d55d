package db

import (
	"testing"

	"github.com/LOME-AI/HushBox-sub006/internal/models"
)

func TestMigrateCreatesSchema(t *testing.T) {
	conn, errOpen := Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	// Running it again must be a no-op, not a failure.
	if errAgain := Migrate(conn); errAgain != nil {
		t.Fatalf("second migrate: %v", errAgain)
	}

	for _, model := range []any{
		&models.User{}, &models.Wallet{}, &models.Conversation{},
		&models.Message{}, &models.UsageRecord{}, &models.LedgerEntry{},
		&models.LLMCompletion{}, &models.ModelPrice{}, &models.Setting{},
	} {
		if !conn.Migrator().HasTable(model) {
			t.Fatalf("missing table for %T", model)
		}
	}
}

func TestMessageUUIDPrimaryKeyRejectsDuplicates(t *testing.T) {
	conn, errOpen := Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	msg := models.Message{
		ID:             "11111111-1111-1111-1111-111111111111",
		ConversationID: 1,
		Epoch:          1,
		Sequence:       1,
		Role:           models.MessageRoleUser,
		SenderID:       1,
	}
	if errCreate := conn.Create(&msg).Error; errCreate != nil {
		t.Fatalf("create message: %v", errCreate)
	}

	dup := msg
	dup.Sequence = 2
	if errDup := conn.Create(&dup).Error; errDup == nil {
		t.Fatalf("expected duplicate primary key to fail")
	}
}

func TestDetectDialectFromDSN(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{"postgres://u:p@localhost/db", DialectPostgres},
		{"host=localhost user=app dbname=app", DialectPostgres},
		{":memory:", DialectSQLite},
		{"file:data.db?cache=shared", DialectSQLite},
		{"hushbox.db", DialectSQLite},
		{"sqlite://hushbox.db", DialectSQLite},
	}
	for _, c := range cases {
		got, errDetect := detectDialectFromDSN(c.dsn)
		if errDetect != nil {
			t.Fatalf("detect %q: %v", c.dsn, errDetect)
		}
		if got != c.want {
			t.Fatalf("detect %q = %s, want %s", c.dsn, got, c.want)
		}
	}
}

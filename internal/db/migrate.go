package db

import (
	"fmt"

	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all billing models and applies
// the constraints AutoMigrate cannot express.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Wallet{},
		&models.Conversation{},
		&models.ConversationEpoch{},
		&models.ConversationMember{},
		&models.Message{},
		&models.UsageRecord{},
		&models.LedgerEntry{},
		&models.LLMCompletion{},
		&models.ConversationSpending{},
		&models.MemberBudget{},
		&models.ModelPrice{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}

	return ensureLedgerRefConstraint(conn)
}

// ensureLedgerRefConstraint enforces the ledger mutual-exclusion invariant
// in the relational layer: exactly one of payment_ref, usage_record_id, or
// source_wallet_id must be set on every entry. SQLite cannot add a check
// constraint to an existing table, so there the invariant is only enforced
// on fresh databases created before first use.
func ensureLedgerRefConstraint(conn *gorm.DB) error {
	const constraintName = "chk_ledger_entries_one_ref"
	check := "((payment_ref IS NOT NULL)::int + (usage_record_id IS NOT NULL)::int + (source_wallet_id IS NOT NULL)::int) = 1"
	if IsSQLite(conn) {
		return nil
	}

	var count int64
	if errScan := conn.Raw(
		"SELECT COUNT(*) FROM information_schema.table_constraints WHERE constraint_name = ?",
		constraintName,
	).Scan(&count).Error; errScan != nil {
		return fmt.Errorf("db: inspect ledger constraint: %w", errScan)
	}
	if count > 0 {
		return nil
	}

	if errExec := conn.Exec(fmt.Sprintf(
		"ALTER TABLE ledger_entries ADD CONSTRAINT %s CHECK (%s)", constraintName, check,
	)).Error; errExec != nil {
		return fmt.Errorf("db: add ledger constraint: %w", errExec)
	}
	return nil
}

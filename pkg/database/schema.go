package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// RequiredTables lists every table the store reads or writes
var RequiredTables = map[string]string{
	"users":             "User region profiles",
	"messages":          "Posted messages and replies",
	"interactions":      "User actions on messages",
	"flagged_messages":  "Review ledger",
	"schema_migrations": "Migration tracking",
}

// RequiredIndexes lists the indexes the store's queries rely on
var RequiredIndexes = map[string]string{
	"idx_messages_region_time": "Room history and search",
	"idx_messages_parent":      "Reply traversal",
	"idx_interactions_message": "Interactions by message",
	"idx_flagged_status_time":  "Moderation queue",
}

// RequiredColumns lists the columns each table must carry
var RequiredColumns = map[string][]string{
	"users":            {"id", "state", "lga", "updated_at"},
	"messages":         {"id", "author", "state", "lga", "body", "parent_id", "attachment_url", "attachment_type", "status", "created_at"},
	"interactions":     {"id", "user_id", "message_id", "type", "created_at"},
	"flagged_messages": {"id", "user_id", "body", "reason", "state", "lga", "status", "reviewed_by", "reviewed_at", "created_at"},
}

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db      *sql.DB
	dialect Dialect
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB, dialect Dialect) *SchemaValidator {
	return &SchemaValidator{db: db, dialect: dialect}
}

// Validate runs every check
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateColumns(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range sortedKeys(RequiredTables) {
		exists, err := v.tableExists(ctx, table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, RequiredTables[table], err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, RequiredTables[table])
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range sortedKeys(RequiredIndexes) {
		exists, err := v.indexExists(ctx, index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, RequiredIndexes[index], err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, RequiredIndexes[index])
		}
	}
	return nil
}

// ValidateColumns verifies each table carries the columns the store uses
func (v *SchemaValidator) ValidateColumns(ctx context.Context) error {
	for _, table := range sortedKeys(RequiredColumns) {
		found, err := v.columns(ctx, table)
		if err != nil {
			return fmt.Errorf("error reading columns of %s: %w", table, err)
		}
		for _, col := range RequiredColumns[table] {
			if !found[col] {
				return fmt.Errorf("table %s is missing column %s", table, col)
			}
		}
	}
	return nil
}

func (v *SchemaValidator) count(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, v.dialect.Rebind(query), args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (v *SchemaValidator) tableExists(ctx context.Context, table string) (bool, error) {
	if v.dialect == Postgres {
		return v.count(ctx, "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?", table)
	}
	return v.count(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
}

func (v *SchemaValidator) indexExists(ctx context.Context, index string) (bool, error) {
	if v.dialect == Postgres {
		return v.count(ctx, "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = ?", index)
	}
	return v.count(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", index)
}

func (v *SchemaValidator) columns(ctx context.Context, table string) (map[string]bool, error) {
	query := "SELECT name FROM pragma_table_info(?)"
	if v.dialect == Postgres {
		query = "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?"
	}
	rows, err := v.db.QueryContext(ctx, v.dialect.Rebind(query), table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found[name] = true
	}
	return found, rows.Err()
}

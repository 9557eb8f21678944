package db

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// CaseInsensitiveLikeExpr returns a SQL expression for case-insensitive LIKE.
func CaseInsensitiveLikeExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf("LOWER(%s) LIKE ?", column)
	}
	return fmt.Sprintf("%s ILIKE ?", column)
}

// NormalizeLikePattern normalizes a LIKE pattern for the current dialect.
func NormalizeLikePattern(conn *gorm.DB, pattern string) string {
	if IsSQLite(conn) {
		return strings.ToLower(pattern)
	}
	return pattern
}

// ProviderEntryExpr returns a SQL condition matching rows whose JSON provider
// list contains an entry with the bound provider id and status.
func ProviderEntryExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(%s) WHERE json_extract(value, '$.provider_id') = ? AND json_extract(value, '$.status') = ?)",
			column,
		)
	}
	return fmt.Sprintf("%s @> ?", column)
}

// ProviderEntryArgs returns the bind values for ProviderEntryExpr.
func ProviderEntryArgs(conn *gorm.DB, providerID, status string) []any {
	if IsSQLite(conn) {
		return []any{providerID, status}
	}
	payload, _ := json.Marshal([]map[string]string{{"provider_id": providerID, "status": status}})
	return []any{datatypes.JSON(payload)}
}

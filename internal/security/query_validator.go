package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrUnsafeQuery     = errors.New("unsafe query detected")
	ErrMultipleQueries = errors.New("multi-statement queries are not allowed")
	ErrNotSelect       = errors.New("only SELECT queries are allowed")
	ErrNotFind         = errors.New("only find queries are allowed")
	ErrInvalidEmail    = errors.New("invalid email address format")
	ErrInvalidName     = errors.New("invalid identifier")
)

// ValidateEmail rejects addresses that could inject mail headers.
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n") {
		return ErrInvalidEmail
	}
	atIdx := strings.Index(email, "@")
	dotIdx := strings.LastIndex(email, ".")
	if atIdx < 1 || dotIdx < atIdx+2 || dotIdx == len(email)-1 {
		return ErrInvalidEmail
	}
	return nil
}

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)

// ValidateIdentifier accepts a table or column name, optionally schema
// qualified ("public.data"). Names are quoted when statements are built;
// this keeps API callers to plain identifiers.
func ValidateIdentifier(name string) error {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, p := range parts {
		if !identPart.MatchString(p) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// ValidateSourceQuery checks a query for the given source kind. Relational
// sources take read-only SELECT statements (ValidateQuery); Mongo sources
// take a single find expression.
func ValidateSourceQuery(kind, query string) error {
	switch strings.ToLower(kind) {
	case "mongo", "mongodb":
		q := strings.TrimSpace(query)
		open := strings.Index(q, "(")
		if open == -1 || !strings.HasSuffix(q[:open], ".find") || !strings.HasSuffix(q, ")") {
			return ErrNotFind
		}
		if strings.Contains(q, "$where") || strings.Contains(q, "$function") {
			return fmt.Errorf("%w: server-side javascript", ErrUnsafeQuery)
		}
		return nil
	default:
		return ValidateQuery(query)
	}
}

// ValidateQuery admits read-only queries only:
//  1. Must be a SELECT statement.
//  2. Must not contain multiple statements (semicolons).
//  3. Must not contain writing keywords or server file/admin functions.
//  4. Must not read system catalogs.
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	qUpper := strings.ToUpper(q)

	if !strings.HasPrefix(qUpper, "SELECT") && !strings.HasPrefix(qUpper, "WITH") {
		return ErrNotSelect
	}
	if strings.Contains(q, ";") {
		return ErrMultipleQueries
	}

	forbidden := []string{
		"DELETE", "DROP", "INSERT", "UPDATE", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
		"CREATE", "REPLACE", "CALL", "DO", "HANDLER", "LOAD", "COPY", "INTO", "UNION",
		"USER(", "VERSION(", "DATABASE(", "LOAD_FILE(", "@@VERSION", "@@HOSTNAME",
		"PG_READ_FILE(", "PG_READ_BINARY_FILE(", "PG_LS_DIR(", "PG_SLEEP(",
		"PG_TERMINATE_BACKEND(", "LO_IMPORT(", "LO_EXPORT(", "DBLINK(", "SET_CONFIG(",
	}
	for _, word := range forbidden {
		if containsWord(qUpper, word) {
			return fmt.Errorf("%w: forbidden keyword %s", ErrUnsafeQuery, word)
		}
	}

	systemTables := []string{
		"INFORMATION_SCHEMA", "MYSQL", "PERFORMANCE_SCHEMA", "SYS",
		"PG_CATALOG", "PG_SHADOW", "PG_AUTHID", "PG_USER",
	}
	for _, table := range systemTables {
		if containsWord(qUpper, table) {
			return fmt.Errorf("%w: system table %s", ErrUnsafeQuery, table)
		}
	}
	return nil
}

// containsWord reports whether word occurs in s between SQL delimiters, so
// "DELETE" matches but "IS_DELETED" does not. s must be upper case.
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i == -1 {
			return false
		}
		start := idx + i
		end := start + len(word)

		isStartValid := start == 0 || isBoundary(s[start-1])
		// Function patterns end in "(", which is its own boundary.
		isEndValid := end == len(s) || isBoundary(s[end]) || strings.HasSuffix(word, "(")
		if isStartValid && isEndValid {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' ||
		b == '(' || b == ')' || b == ',' || b == '=' ||
		b == '<' || b == '>' || b == '`' || b == '.' ||
		b == '"' || b == '[' || b == ']' || b == '/' || b == '*'
}

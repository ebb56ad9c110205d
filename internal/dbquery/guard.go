package dbquery

import (
	"fmt"
	"regexp"
	"strings"
)

// Statement keywords that are never legitimate inside a read-only query.
// REPLACE is omitted because it collides with the REPLACE() scalar
// function; the query_only pragma blocks REPLACE INTO at execution.
var forbiddenKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|ATTACH|DETACH|PRAGMA|VACUUM|REINDEX)\b`)

// ValidateQuery rejects anything that is not a single read-only SELECT.
// The generation prompt already demands SELECT-only output, but prompts
// are not guarantees; every statement passes through here before it
// reaches the database.
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	stripped := stripStringLiterals(trimmed)

	if i := strings.IndexByte(stripped, ';'); i != -1 && strings.TrimSpace(stripped[i+1:]) != "" {
		return fmt.Errorf("multiple statements are not allowed")
	}

	if m := forbiddenKeyword.FindString(stripped); m != "" {
		return fmt.Errorf("forbidden keyword %s in query", strings.ToUpper(m))
	}
	return nil
}

// stripStringLiterals blanks out single-quoted SQL literals so keyword
// scanning does not trip on values like 'DROP SHIPPING LLC'.
func stripStringLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			// '' inside a literal is an escaped quote, not a terminator
			if inString && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
			continue
		}
		if !inString {
			b.WriteByte(c)
		}
	}
	return b.String()
}

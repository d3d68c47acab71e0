package changeevent

import (
	"regexp"
	"strings"
)

var (
	// lowerUpper splits "projectMembers" and "version2Name".
	lowerUpper = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	// upperWord splits "HTMLParser" into "HTML" and "Parser".
	upperWord = regexp.MustCompile(`([A-Z])([A-Z][a-z])`)
	// nonWord collapses every run of other characters into one separator.
	nonWord = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// StorageName folds an external, word-joined name into the underscore-joined
// lowercase name used by the database.
//
//	projectMembers -> project_members
//	createdAt      -> created_at
//	userID         -> user_id
//	HTMLParser     -> html_parser
//	user-id        -> user_id
//
// Digits stay attached to the preceding word. The result is deterministic
// and idempotent.
func StorageName(external string) string {
	s := lowerUpper.ReplaceAllString(external, "${1} ${2}")
	s = upperWord.ReplaceAllString(s, "${1} ${2}")
	s = nonWord.ReplaceAllString(s, " ")
	return strings.ToLower(strings.Join(strings.Fields(s), "_"))
}

// Package filter compiles and evaluates client-supplied JSON predicates.
//
// The vocabulary is a closed set of document-store query operators spelled
// with a leading underscore:
//
//	{"status": "active"}                          equality
//	{"score": {"_gte": 10, "_lt": 20}}            comparison
//	{"tags": {"_in": ["urgent", "blocked"]}}      membership
//	{"owner.name": {"_regex": "^al", "_options": "i"}}
//	{"_or": [{"priority": 1}, {"assignee": {"_exists": false}}]}
//	{"_eq": "active"}                             whole payload
//
// Value operators at the top of a filter apply to the payload itself,
// which is how plain string payloads are filtered.
//
// Keys may be dotted paths. A path that crosses an array matches if any
// element matches, and a condition on an array field matches if the array
// itself or any of its elements satisfies it. Missing fields behave as in
// document stores: they equal null and satisfy _ne, _nin and
// {"_exists": false}.
//
// Script evaluation (_where) is deliberately not part of the vocabulary.
package filter

// Package changeevent classifies broker topics as database change events.
//
// Row changes are published on slash-delimited topics:
//
//	<prefix>/<operation>/<table>/<column>/<value>
//	pg/update/projectMembers/id/42
//
// Parsing never fails. A topic whose first level is not the configured
// prefix yields an irrelevant Event, which skips the row-level access check
// downstream. Missing levels are empty strings and levels beyond the fifth
// are ignored.
package changeevent

// Package access enforces row-level authorization on change events.
//
// A change event names a table, a column and a value. Before an event is
// delivered, the checker asks the store whether the subscriber can see that
// row by running, on the subscriber's own role-scoped session:
//
//	SELECT "<id>" FROM "<schema>"."<table>" WHERE "<column>" = $1 LIMIT 1
//
// Exactly one row grants access. Zero rows, an error, or a table or column
// name that is not a plain identifier all deny. The store's own row-level
// security policies decide visibility; the checker never uses a privileged
// connection.
package access

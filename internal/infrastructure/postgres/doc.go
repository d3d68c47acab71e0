// Package postgres provides the PostgreSQL pool that row-level access checks
// run against.
//
// Checks never run with the pool's own privileges. Each one opens a short
// transaction, switches to the subscriber's role and exposes their JWT claims
// as transaction-local settings, then rolls back:
//
//	BEGIN;
//	SELECT set_config('role', 'viewer', true);
//	SELECT set_config('jwt.claims.sub', '42', true);
//	SELECT "id" FROM "projects" WHERE "id" = $1 LIMIT 1;
//	ROLLBACK;
//
// Row-level security policies therefore see exactly what a query issued by
// that subscriber would see.
package postgres

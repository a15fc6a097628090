// Package managed is the backend adapter for the hosted Postgres
// deployment, reached through its REST gateway.
//
// The adapter carries no authorization logic: every request presents the
// caller's access token and the store's row-level policies decide what
// the caller sees. Rows hidden by a policy come back as empty results,
// which the adapter reports as NotFound, the same way the direct adapter
// reports rows its composed predicates filter out.
//
// Requests:
//
//	GET    /rest/v1/<table>?<col>=<op>.<value>&order=<col>.<dir>&limit=<n>
//	POST   /rest/v1/<table>
//	PATCH  /rest/v1/<table>?id=eq.<id>
//	DELETE /rest/v1/<table>?id=eq.<id>
//	POST   /rest/v1/rpc/<procedure>
//
// Transactions are not atomic on this backend. Ops run in order and, on
// failure, the ops already applied are compensated in reverse.
package managed

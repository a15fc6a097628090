// Package policy provides the authorization predicate IR shared by both
// backend adapters.
//
// A single declarative table (catalog.Table.Policy) names, for every entity
// and every action, the predicate a caller must satisfy. The same predicate
// is compiled three ways by package policysql:
//
//	[Policy] → filter SQL   (direct adapter: composed into WHERE)
//	         → check SQL    (direct adapter: WITH CHECK test on writes)
//	         → policy DDL   (managed store: CREATE POLICY ... USING auth.uid())
//
// Keeping one source means the two enforcement paths cannot drift apart.
//
// CANONICAL SHAPES:
//
// Every persisted entity is protected by one of four shapes:
//   - OwnerIs        (a) owner column equals the caller
//   - MemberOf       (b) scope column is an organization the caller belongs to
//   - Public         (c) readable by any authenticated caller
//   - SelfID         (d) insert-only: id column equals the caller
//
// MemberWithRole restricts (b) to a set of roles, and OrgCreator lets the
// creator of an organization enroll the first member before any membership
// exists. Deny is the absence of a grant.
//
// SEALED INTERFACES:
//
// Predicate is sealed with the marker method pattern so compilers can use
// exhaustive type switches:
//
//	switch p := pred.(type) {
//	case OwnerIs:
//	    // caller = column
//	case MemberOf:
//	    // column IN caller's organizations
//	default:
//	    // unsupported
//	}
package policy

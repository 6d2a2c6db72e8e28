// Package authz decides whether an actor may perform an action on a resource.
//
// Core concepts:
//
//   - Principal: the single identity of a request (System/User/Test).
//     Set via NewSystemContext, NewUserContext, NewTestContext, or WithPrincipal.
//
//   - RBAC: a static role table. Teacher and student entries are allow-lists;
//     admin matches everything. Nobody but admin may manage the admin resource.
//
//   - ABAC: a Registry of predicates keyed by "resource:action". Rules only
//     restrict. A missing or disabled rule allows, and a rule is never consulted
//     once RBAC has denied.
//
//   - Repair: RunWithRepair lifts the frozen-resource guards for admin or
//     system principals. Every repair is logged and the operation run under it
//     still writes its own audit entry.
//
// Usage rules:
//
//  1. Build one Registry at startup and inject it; there is no package state.
//  2. Prefer RunWithRepair closures to limit the repair scope.
//  3. Repair reasons must be stable strings for audit aggregation.
//  4. Command line tooling must declare the System principal via NewSystemContext.
package authz

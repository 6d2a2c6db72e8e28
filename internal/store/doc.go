// Package store is the entity store: typed rows, hand-written SQL over sqlx,
// and the transaction boundary every governed operation runs inside.
//
// All repository methods query through the transaction carried by the context
// when there is one, so a unit of work started with RunInTx sees and commits
// its writes together. Storage-level invariants (partial unique indexes,
// the audit_logs triggers) live in the embedded migrations; violations are
// translated into errs kinds before they leave this package.
package store

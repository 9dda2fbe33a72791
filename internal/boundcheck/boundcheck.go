package boundcheck

import "github.com/corani/tirpass/internal/ir"

// Instrument is the instrument_bound_checks public operation (spec §6):
// it runs the read-only Bound Attribute Collector (§4.1) followed by the
// mutating Bound Check Rewriter (§4.2). It is idempotent up to semantic
// equivalence — re-running it on already-instrumented IR re-collects the
// same shapes, and the Store inside each earlier IfThenElse/Assert
// wrapper is visited and wrapped again rather than skipped. The doubled
// guard checks the same condition twice, so the result behaves the same.
//
// Instrument never rejects input (spec §4.2 failure semantics): IR it
// cannot instrument passes through unchanged. It only returns an error
// for a malformed tvm_access_ptr call (spec §7).
func Instrument(stmt ir.Stmt) (ir.Stmt, error) {
	shapes := collect(stmt)
	return newRewriter(shapes).rewriteStmt(stmt)
}

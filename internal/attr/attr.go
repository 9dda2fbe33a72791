// Package attr holds the attribute-key and intrinsic-name string
// constants spec §6 requires to be "bit-exact strings... match across
// producers and these passes". Nothing here is behaviour; it exists so
// internal/boundcheck and internal/vthread never spell these strings out
// by hand in more than one place.
package attr

// Attribute keys (spec §3, §6).
const (
	// BufferBound binds a buffer variable to a scalar expression denoting
	// its byte extent.
	BufferBound = "buffer_bound"
	// VirtualThread marks a subtree for virtual-thread injection; its
	// node is an *ir.IterVar and its value is the thread count N.
	VirtualThread = "virtual_thread"
	// CoprocUopScope demarcates a non-shareable co-processor micro-op
	// region.
	CoprocUopScope = "coproc_uop_scope"
	// CoprocScope demarcates a non-shareable co-processor region.
	CoprocScope = "coproc_scope"
)

// Intrinsic call names (spec §6). access_ptr has arity 5 with argument
// order (dtype, buffer_var, offset, extent, rw_mask); if_then_else has
// arity 3 (cond, true_val, false_val); context_id has arity 0.
const (
	IfThenElse = "tvm_if_then_else"
	AccessPtr  = "tvm_access_ptr"
	ContextID  = "tvm_context_id"
)

// AccessPtr argument positions.
const (
	AccessPtrDtype  = 0
	AccessPtrBuffer = 1
	AccessPtrOffset = 2
	AccessPtrExtent = 3
	AccessPtrRWMask = 4
	AccessPtrArity  = 5
)

// rw_mask bit layout (spec §4.3): bit 0 is read, bit 1 is write.
const (
	RWRead  = 1 << 0
	RWWrite = 1 << 1
)

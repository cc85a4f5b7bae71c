package versionreader

// StackLayout is the set of byte offsets one Ruby version's Reader needs to
// walk the VM call-frame chain and decode an iseq into a Frame. A single
// generic walker (genericReader, in generic.go) is shared across every
// registered version; only these constants differ, mirroring how the
// original profiler generates per-version struct layouts and feeds them
// through one stack-walking template rather than hand-writing ~80 walkers.
type StackLayout struct {
	// Current-thread chain (Ruby < 3.0, current_thread_slot != 0).
	ThreadECOffset uint64 // rb_thread_t.ec

	// Ractor chain (Ruby >= 3.0, current_thread_slot == 0).
	VMRactorOffset      uint64 // rb_vm_t.ractor.main_ractor
	RactorRunningECOffset uint64 // rb_ractor_t.running_ec

	// Execution-context -> control-frame chain.
	ECCFPOffset uint64 // rb_execution_context_t.cfp
	CFPSize     uint64 // sizeof(rb_control_frame_t); older (outer) frames lie at higher addresses
	CFPPCOffset uint64 // rb_control_frame_t.pc
	CFPIseqOffset uint64 // rb_control_frame_t.iseq
	CFPEPOffset   uint64 // rb_control_frame_t.ep (used to tell cfunc frames apart)

	// iseq_t -> body -> location/encoded/line-table chain.
	IseqBodyOffset             uint64 // rb_iseq_t.body
	IseqBodyLocationOffset     uint64 // rb_iseq_constant_body.location
	IseqBodyEncodedOffset      uint64 // rb_iseq_constant_body.iseq_encoded
	IseqLocationPathOffset     uint64 // rb_iseq_location_struct.pathobj (VALUE, either a String or [String,String])
	IseqLocationLabelOffset    uint64 // rb_iseq_location_struct.label (VALUE String)
	IseqLocationLineTableOffset uint64 // rb_iseq_constant_body.line_info (pointer to insn offset/line pairs)
	IseqLocationLineTableSizeOffset uint64

	MaxFrames int
}

// Package packet holds the byte-level helpers shared by every section of a
// zephyrnet datagram: a bounds-checked big-endian Reader and Writer, and the
// ManagerType tag that says which subsystem a section belongs to.
//
// A datagram body is a sequence of sections, each introduced by its tag:
//
//	[ManagerType u8][section bytes]...
//
// The Reader never panics on a short buffer. Every read past the end returns
// ErrShortBuffer and leaves the cursor untouched.
package packet

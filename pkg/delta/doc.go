// Package delta applies incremental diff frames to reconstruct full
// subscription payloads.
//
// A delta frame is a tab-separated sequence of instructions, each one
// operator character followed by a value:
//
//	+<literal>  append the percent-decoded literal to the output
//	=<n>        copy the next n units of the previous text to the output
//	-<n>        skip the next n units of the previous text
//
// Lengths count UTF-16 code units, matching the reference encoder. A
// supplementary-plane character (for example an emoji) therefore counts
// as two units. Getting this wrong silently corrupts non-ASCII payloads,
// so the package converts through unicode/utf16 rather than slicing Go
// strings by byte or rune.
//
// Malformed instructions and cursor overruns are reported with the
// sentinel errors of package wire; callers treat them as "this
// subscription is desynchronized", not as fatal.
package delta

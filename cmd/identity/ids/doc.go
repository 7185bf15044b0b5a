// Package ids provides the identifier primitives used across the service.
//
// The primary type is Generator, a process-local issuer of 64-bit, time
// ordered identifiers. With the default layout an ID is laid out as:
//
//	bit  63      reserved, always 0
//	bits 62..22  milliseconds since the generator epoch (41 bits)
//	bits 21..12  worker id (10 bits)
//	bits 11..0   sequence within the millisecond (12 bits)
//
// Uniqueness across processes requires every process to run with a distinct
// worker id. ULIDs are still used for request ids, where ordering across
// machines does not matter.
package ids

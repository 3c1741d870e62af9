// Package shmem provides the shared-memory abstraction used by the
// RPMI transport and fast channels.
//
// A [Shmem] is a named region with a physical base address and a size.
// All access goes through three bounds-checked operations - Read,
// Write, and Fill - which delegate to a platform [Ops] table.
//
// Two stock operation tables are provided:
//
//   - [MemOps] for cache-coherent windows, delegating directly to
//     byte copies
//   - [NonCoherentOps], which cleans dirty lines after every write
//     and fill and invalidates before every read via the platform's
//     [CacheMaintenance] hooks
//
// Reads reflect writes issued by the same executor once the operation
// returns; cross-executor visibility is the platform's responsibility
// through the cache-maintenance hooks.
package shmem

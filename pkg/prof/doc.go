// Package prof provides small profiling helpers for softrpmi demo
// and test binaries.
//
// It wraps [runtime/pprof] with a file-oriented API: [StartCPU] and
// [StopCPU] bracket a CPU profile, and [Write] snapshots any other
// profile type on demand:
//
//	prof.StartCPU("cpu.prof")
//	defer prof.StopCPU()
//	// ... drive the request loop ...
//	prof.Write(prof.ProfileHeap, "heap.prof")
package prof

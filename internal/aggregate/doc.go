// Package aggregate implements the per-stripe erasure-coding
// reconciliation engine: the iteration driver, stripe assembler,
// parity probe, stripe classifier, parity codec invocations, peer
// coordination, local commit, and the offload bridge that runs
// codec/RPC work off the driver's goroutine (spec §4).
package aggregate

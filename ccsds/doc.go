// Package ccsds decodes spacecraft downlink telemetry conforming to the
// CCSDS TM Synchronization and Channel Coding and Space Packet Protocol
// recommendations.
//
// The pipeline runs from raw bytes to packets:
//
//	bytes -> Synchronizer -> Derandomize -> FrameRSDecoder -> PacketExtractor -> PacketGrouper
//
// Each stage is a lazy, pull-driven iterator; the Reed-Solomon stage is the
// only parallel component and preserves input order on output. Recoverable
// conditions (uncorrectable blocks, counter gaps, dropped partial packets)
// are reported as per-record status, not errors; only a source read failure
// terminates a stream.
package ccsds

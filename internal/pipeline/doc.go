// Package pipeline holds the lead board rules: stage partitioning, filtering, selection,
// archive provenance, the drag gesture state machine and per-item batch results.
//
// Everything here is free of I/O except RunBatch, which only fans out caller supplied work.
// Board sessions are guarded by their own mutex; the other types are not safe for concurrent use.
package pipeline

// Package progress carries per-product events out of a sync run. A Hub buffers
// them without blocking the run and hands batches to pluggable sinks.
package progress

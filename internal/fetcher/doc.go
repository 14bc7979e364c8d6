// Package fetcher implements the paced, robots-aware HTTP fetcher used by
// discovery and sync. All requests made through one Fetcher share a single
// pacing context and are issued one at a time.
package fetcher

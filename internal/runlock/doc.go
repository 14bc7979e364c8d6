// Package runlock provides single-flight run guards with a TTL, in process
// memory or in Redis for multi-instance deployments.
package runlock

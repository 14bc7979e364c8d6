// Package cache implements catalog.Cache over process memory and Redis.
package cache

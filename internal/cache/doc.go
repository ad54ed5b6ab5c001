// Package cache provides the Redis-backed read-side cache for significance
// reports. This package is internal and should not be imported by external
// projects.
package cache

// Package cache provides the content-addressed classification decision cache.
// This package is internal and should not be imported by external projects.
package cache

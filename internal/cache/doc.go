// Package cache implements the byte-block cache that sits in front of remote
// blob stores.
package cache

// Package objects provides the file object and virtual file path types that
// are handed to analysis and compare plugins.
package objects

// Package preferences holds the persisted option trees of the converter.
//
// Each tree is a plain Go value with defaults. Load merges the stored JSON
// document over the defaults, and every change goes through Update or
// Replace, which mutate the in-memory value and then persist the whole tree
// under its key. Restoring stored values at load time can be switched off
// with the ffmpegWeb-SavePreferences key.
package preferences

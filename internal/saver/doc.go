// Package saver delivers generated files to the user.
//
// A FileSaver commits to one delivery strategy for the whole save session:
//
//   - link: every write is handed to a LinkDeliverer as its own download
//   - zip: writes accumulate in an in-memory archive delivered on Release
//   - zipjs: writes are streamed into a zip archive whose bytes go either to
//     a destination chosen with a SavePicker or, through the bridge, to a
//     server-side transfer that a DeliveryTrigger downloads
//   - handle: writes go straight into a granted directory (an afero.Fs)
//
// Capabilities describe what the environment offers. The selector reads
// them once, at New, and falls back (link for handle, zip for zipjs) when a
// capability is missing. Fallbacks are logged, never returned as errors;
// errors from the chosen strategy's writes are returned to the caller.
package saver

// Command savezip saves local files through a running convert-web server
// using the same strategies as the converter page.
//
// The zipjs strategy streams an archive through the server's bridge: files
// are zipped on the fly, posted as chunks, and the archive is downloaded
// from the server's download URL while it is being produced. The zip
// strategy builds the archive in memory, link saves each file on its own,
// and handle writes files into the output directory.
//
// Usage:
//
//	savezip save -m zipjs -o ./out video.mp4 audio.mp3
//	savezip prefs get settings
//	savezip prefs set settings '{"fileSaver":{"keepInMemory":true}}'
//	savezip prefs --db /database/convert-web.db list
//	savezip transfers
//
// Every flag can also be set through a SAVEZIP_ environment variable
// (SAVEZIP_SERVER, SAVEZIP_MAX_IN_FLIGHT, ...) or a YAML file passed
// with --config.
package main

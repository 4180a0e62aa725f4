// Package logging provides a simple leveled logging interface for the
// convert-web server and the savezip client.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable, or
// forced to debug with DEBUG=true. Lines are rendered by zerolog's console
// writer so every entry carries a timestamp and a level tag.
package logging

// Package logging provides opt-in file-based logging with rotation for the
// object store daemon and CLI. When --debug is set, comprehensive logs are
// written to ~/.sugar-datastore/logs/ for troubleshooting.
//
// By default (without --debug), logging is minimal and goes to stderr only.
package logging

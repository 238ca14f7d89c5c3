// Package logging provides structured logging for the object store.
//
// Logger is a small key/value interface backed by zap. Create one from a
// Config:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/objstore/objstore.log",
//	})
//
// Output is "stdout", "stderr" or a file path opened for appending. Format
// is "json" or "text"; text uses zap's console encoder.
//
// Every flush gets its own operation ID so that the entries of one flush
// can be picked out of a busy log:
//
//	log := logger.WithOperationID(logging.GenerateOperationID())
//	log.Info("flush committed", "sequence", 12, "written", 40960)
//
// Tests use NewNop.
package logging

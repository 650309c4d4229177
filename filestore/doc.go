// Package filestore keeps autopilot state on the local filesystem.
//
// [Ledger] writes one JSON Lines file per execution: a header line with the
// record as created, one line per step and a final line with the result.
// Lines are only ever appended, so a crash mid-run leaves a readable record
// with the steps written so far.
//
// [MemoryStore] keeps one JSON file per memory key and [DefinitionDir] reads
// YAML or JSON definitions from a directory tree and can watch it for
// changes.
//
// All stores are safe for concurrent use within one process. They do not
// coordinate between processes.
package filestore

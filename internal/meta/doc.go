// Package meta implements the metadata store shared by the configuration
// API and the output workers.
//
// Database, Queue, and Output records are stored as JSON values in Pebble.
// Absence of a record is a normal outcome, not an error. Output updates
// are versioned: every successful UpdateOutput bumps a monotonically
// increasing Version, which lets a worker distinguish its own checkpoint
// writes from external reconfiguration. LockOutput hands out the per-output
// mutex that serializes the checkpoint read-modify-write against
// configuration updates for the same output.
package meta

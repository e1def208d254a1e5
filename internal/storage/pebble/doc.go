// Package pebblestore wraps a Pebble database with the durability policy
// and small helpers shared by the event log and the metadata store.
//
// All writes go through batches committed under a single fsync mode chosen
// at open time, so callers never decide sync behavior per write. Reads copy
// values out of Pebble's buffers before returning them.
package pebblestore

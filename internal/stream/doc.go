// Package stream publishes relayed timing batches to message streams. Each
// batch is one message carrying the batch JSON, keyed by batch id.
package stream

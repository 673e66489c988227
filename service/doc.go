// Package service orchestrates the model store with its durable and outward
// facing parts: the commit journal, the pebble checkpoint and recovery.
//
// It provides path-addressed Get, Set, List, Declare, Remove and Watch over
// the model, decoupled from network transports like gRPC.
package service

// Package model is the shared hierarchical model: typed nodes whose values are
// published as immutable versions through a single atomic pointer per node.
//
// Readers take a Snapshot and never block. Writers open a Transaction from a
// snapshot baseline, mutate a private working copy and Commit with a CAS;
// a false Commit means another writer won and the caller retries from a fresh
// baseline, usually through WithRetry. A transaction that dirties several
// nodes commits all of them or none.
//
// Every node carries a Talker. Listeners connect with a delivery policy that
// picks the goroutine running the callback (the committer or a Dispatcher)
// and whether bursts of commits collapse into the latest value.
package model

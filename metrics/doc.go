// Package metrics measures how long transactions take to be decided.
//
// A Stopwatches value times every transaction from the moment the hub proposes it until the
// first replica reports a decision, and keeps a running mean and variance of those latencies.
package metrics

// Package redis implements the record store on a Redis keyspace using
// go-redis. Records are stored as JSON documents under a configurable key
// prefix: <prefix>session:<id>, <prefix>user:<id>, <prefix>feature:<key>.
//
// This backend suits deployments that mirror the upstream document store
// into Redis for latency, or that run the session issuer against the same
// keyspace.
package redis

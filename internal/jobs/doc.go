// Package jobs provides the asynchronous execution backend for pipeline work.
//
// A Broker persists jobs and hands them to workers. Two brokers exist: Queue,
// backed by SQLite and used by default, and RedisBroker for deployments that
// already run Redis. Both guarantee that jobs for one region execute one at a
// time in enqueue order while jobs for different regions run in parallel.
//
// Pool runs a fixed number of workers that claim jobs, look up the Handler for
// the job kind in a Registry, and record the outcome with Finish. A job runs
// once; failures are recorded and logged, never retried.
package jobs

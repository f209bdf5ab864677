// Package task implements the orchestration engine: it registers units of
// work with priorities, dependencies, retry policy, and timeouts, and runs
// them through pluggable concurrency strategies while tracking status,
// progress, and results. A single Manager instance owns the registry and
// drives a periodic scheduler loop; task bodies run inside one of three
// Executor strategies (sequential, worker pool, bounded async).
package task

// Package driver runs the allocsync jobs.
//
// A job enumerates its entities from the ColdFront store, narrows them with the
// CLI options and the optional entity filter, reconciles each one with the
// reconcilers of package engine and writes one tab-separated row per entity.
// Every run is traced, counted in the Prometheus metrics and, when a history
// store is configured, recorded with its rows.
//
// Scheduler runs the same jobs on cron specs for the serve command.
package driver

// Package stores keeps the history of plan applications and checks in
// SQLite.
//
// A run is one application or check of a plan. Its committed actions are
// stored in commit order, together with the constraint violation that
// stopped it, if any, and the telemetry events published meanwhile. The
// schema is embedded and applied with golang-migrate.
//
// RunRecorder plugs a run into an applier: register it as a commit listener
// and as the applier observer, then call Finish with the outcome.
package stores

// Package stores persists the action history of fxctl in SQLite.
//
// Every telemetry event published on the primary channel becomes one row.
// The schema is managed with embedded golang-migrate migrations.
package stores

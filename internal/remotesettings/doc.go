// Package remotesettings overlays configuration values from an SSM
// parameter path onto the process settings.
//
// A Loader fetches every parameter below the configured path. The Manager
// holds the active Snapshot behind an atomic pointer and exposes it as a
// settings.Source. The Watcher polls the path and swaps snapshots when the
// revision changes, backing off exponentially while SSM is failing.
package remotesettings

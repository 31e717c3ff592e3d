// Package settings produces a JSON-safe snapshot of the process-wide
// configuration for the /settings/ diagnostic endpoint.
//
// Values come from a [Source]. Only public, upper-case names are dumped
// and every value is run through [Classify] so the snapshot always encodes:
// funcs become "<callable: ...>", [Path] values become strings, package
// defined objects become "<object: ...>", anything json.Marshal rejects
// falls back to its fmt form, and read failures become
// "<error accessing setting: ...>".
package settings

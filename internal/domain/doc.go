// Package domain holds the types that describe one handwriting render:
// the geometry read back from the page, the result handed to callers and
// the stage-scoped error every failure is reported through.
//
// Keep this package free of transport (HTTP) and infrastructure (browser,
// Redis) concerns.
package domain

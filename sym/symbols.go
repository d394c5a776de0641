// Package sym defines canonical symbols used in geovet log and CLI output.
// These markers are stable across CLI output, structured logs, and docs.
package sym

// Pipeline markers.
const (
	Stage = "▶" // stage execution
	Batch = "⊞" // batch coordination across files
	Index = "⊕" // spatial index build
	DB    = "⊔" // database/storage layer
	Check = "✓" // passed validation
	Flag  = "✗" // validation finding
	Open  = "✿" // run start
	Close = "❀" // run completion
)

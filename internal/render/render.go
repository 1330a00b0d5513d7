// Package render executes a Go template with the mugo function map against
// a node's input data, for the template node in internal/engine/nodes.
package render

import (
	"github.com/rytsh/mugo/render"
)

// ExecuteWithData renders content as a Go template against data using the
// standard mugo function map (sprig-style string/math/collection helpers
// plus mugo's own). The template node has no per-execution functions to
// inject, so it calls straight through to mugo's renderer rather than
// building a templatex.Option chain for an empty extra func map.
var ExecuteWithData = render.ExecuteWithData

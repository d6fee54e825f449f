// Package filter defines the content-filter seam. The relay does not
// implement filtering; deployments inject their own implementation and the
// engine calls it with the target channel's configured level.
package filter

import "github.com/chatrelay/internal/model"

// Func filters message text at the given level and returns the text to
// store and broadcast. Implementations must be pure.
type Func func(text string, level model.FilterLevel) string

// Passthrough returns the text unchanged. Used when no filter is configured.
func Passthrough(text string, _ model.FilterLevel) string { return text }

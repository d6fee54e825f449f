package model

type FilterLevel string

const (
	FilterPermissive FilterLevel = "permissive"
	FilterModerate   FilterLevel = "moderate"
	FilterStrict     FilterLevel = "strict"
)

// Channel is a pre-configured room. The set of channels is fixed at process
// start; membership is derived from presence records, never stored here.
type Channel struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	FilterLevel FilterLevel `json:"filter_level"`
}

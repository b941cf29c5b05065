package upstream

// RawRecord is one availability record exactly as received from the upstream
// API. The schema varies by endpoint version, so fields stay opaque until
// normalization applies the enumerated coercion rules.
type RawRecord map[string]interface{}

// pageResponse is the wire shape of one paginated response: a batch of
// records plus an opaque continuation token. An empty token signals the
// final page.
type pageResponse struct {
	Data      []RawRecord `json:"data"`
	NextToken string      `json:"next_token"`
}

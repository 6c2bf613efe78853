package models

// MarketMeta is the slice of gamma-api market metadata the pipeline
// cares about: expiry selection and sports price buffering.
type MarketMeta struct {
	Title    string `json:"title"`
	Outcome  string `json:"outcome"`
	Category string `json:"category"`
	IsLive   bool   `json:"is_live"`
	IsSports bool   `json:"is_sports"`
}

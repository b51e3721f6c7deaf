package model

// A Tombstone remembers the code of a short link removed along with the file it led to.
type Tombstone struct {
	Base `json:",inline" storm:"inline"`

	Code      string `json:"code"       storm:"unique"`
	TargetURL string `json:"target_url"`
}

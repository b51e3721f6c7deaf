package model

// A ShortLink is an alphanumeric alias resolving to a download path or an external URL.
type ShortLink struct {
	Base `json:",inline" storm:"inline"`

	Code      string `json:"code"       storm:"unique"`
	TargetURL string `json:"target_url"`
}

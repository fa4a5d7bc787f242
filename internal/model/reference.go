package model

// Site is a cached collection site and its CRM identifier.
type Site struct {
	SiteID   string `json:"site_id"`
	Name     string `json:"name"`
	RemoteID string `json:"remote_id"`
}

// Account is a cached customer account. SourceCode is the numeric account
// number some source systems report instead of the account code.
type Account struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	SourceCode string `json:"source_code,omitempty"`
	RemoteID   string `json:"remote_id"`
}

// Lab is a cached laboratory keyed by its canonical name.
type Lab struct {
	Name     string `json:"name"`
	RemoteID string `json:"remote_id"`
}

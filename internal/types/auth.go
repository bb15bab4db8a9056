package types

import "time"

// AuthType tells how stored credentials mint access tokens
type AuthType string

const (
	AuthTypeOAuth          AuthType = "oauth"
	AuthTypeServiceAccount AuthType = "service_account"
)

// Credentials are what a profile keeps in the credential store. OAuth
// credentials carry the client they were issued to so the refresh token can
// be exchanged; service accounts point at their key file.
type Credentials struct {
	Type                AuthType  `json:"type"`
	AccessToken         string    `json:"accessToken,omitempty"`
	RefreshToken        string    `json:"refreshToken,omitempty"`
	TokenType           string    `json:"tokenType,omitempty"`
	ExpiryDate          time.Time `json:"expiryDate"`
	Scopes              []string  `json:"scopes,omitempty"`
	ClientID            string    `json:"clientId,omitempty"`
	ClientSecret        string    `json:"clientSecret,omitempty"`
	ServiceAccountEmail string    `json:"serviceAccountEmail,omitempty"`
	KeyFile             string    `json:"keyFile,omitempty"`
}

// CredentialStatus summarizes a profile for display
type CredentialStatus struct {
	Profile    string    `json:"profile"`
	Type       AuthType  `json:"type"`
	Backend    string    `json:"backend"`
	Identity   string    `json:"identity,omitempty"`
	ExpiryDate time.Time `json:"expiryDate"`
	Expired    bool      `json:"expired"`
	Refreshes  bool      `json:"refreshes"`
	Scopes     []string  `json:"scopes,omitempty"`
}

func (s *CredentialStatus) Headers() []string {
	return []string{"Profile", "Type", "Identity", "Backend", "Expiry", "Refreshes"}
}

func (s *CredentialStatus) Rows() [][]string {
	identity, expiry := s.Identity, "-"
	if identity == "" {
		identity = "-"
	}
	if !s.ExpiryDate.IsZero() {
		expiry = s.ExpiryDate.Format(time.RFC3339)
		if s.Expired {
			expiry += " (expired)"
		}
	}
	refreshes := "no"
	if s.Refreshes {
		refreshes = "yes"
	}
	return [][]string{{s.Profile, string(s.Type), identity, s.Backend, expiry, refreshes}}
}

func (s *CredentialStatus) EmptyMessage() string {
	return "No credentials"
}

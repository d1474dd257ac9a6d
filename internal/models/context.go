package models

import "time"

// Context represents one logical client session against the ConnectWise
// Manage API. Records live only in memory; nothing survives a restart.
type Context struct {
	ID             string    `json:"contextId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	Connected      bool      `json:"connected"`
}

// Credentials are the fields Connect-CWM needs to open a session.
// Any field left empty falls back to the ambient configuration.
type Credentials struct {
	Server     string `json:"server"`
	Company    string `json:"company"`
	PubKey     string `json:"pubKey"`
	PrivateKey string `json:"privateKey"`
	ClientID   string `json:"clientId"`
}

// Merge fills empty fields of c from fallback and returns the result.
func (c Credentials) Merge(fallback Credentials) Credentials {
	if c.Server == "" {
		c.Server = fallback.Server
	}
	if c.Company == "" {
		c.Company = fallback.Company
	}
	if c.PubKey == "" {
		c.PubKey = fallback.PubKey
	}
	if c.PrivateKey == "" {
		c.PrivateKey = fallback.PrivateKey
	}
	if c.ClientID == "" {
		c.ClientID = fallback.ClientID
	}
	return c
}

// IsZero reports whether no field is set.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Secrets returns the credential values that must never appear in error
// messages or logs.
func (c Credentials) Secrets() []string {
	var out []string
	for _, v := range []string{c.PubKey, c.PrivateKey, c.ClientID} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ConnectRequest is the optional body of POST /context/:id/connect.
type ConnectRequest struct {
	Credentials
}

// QueryRequest is the optional body of the getCompanies/getTickets routes.
type QueryRequest struct {
	Conditions string `json:"conditions"`
}

// ExecuteCommandRequest is the body of POST /context/:id/executeCommand.
type ExecuteCommandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

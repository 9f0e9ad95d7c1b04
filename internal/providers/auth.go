package providers

import (
	"fmt"
	"net/http"
)

// HeaderAuth places a per-request API key into an HTTP header.
// OpenAI uses "Authorization: Bearer <key>", Anthropic uses "x-api-key: <key>".
type HeaderAuth struct {
	headerName string
	prefix     string
}

// NewHeaderAuth creates a header authenticator. An empty header name means Authorization.
func NewHeaderAuth(headerName, prefix string) HeaderAuth {
	if headerName == "" {
		headerName = "Authorization"
	}
	return HeaderAuth{headerName: headerName, prefix: prefix}
}

// Apply sets the credential header on the request
func (a HeaderAuth) Apply(req *http.Request, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	req.Header.Set(a.headerName, a.prefix+apiKey)
	return nil
}

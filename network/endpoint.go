// Package network provides endpoint descriptors and HTTP client construction
// for talking to RPC providers, including the authorization header plumbing.
package network

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/network/authorization"
)

// Endpoint is a provider URL together with how to authorize against it.
type Endpoint struct {
	Url  string
	Auth AuthorizationData
}

// AuthorizationData holds the scheme and the value sent in the Authorization
// header. For Basic the value is already base64 encoded.
type AuthorizationData struct {
	Method authorization.Method
	Value  string
}

// Equals compares endpoints including their authorization data.
func (e Endpoint) Equals(other Endpoint) bool {
	return e.Url == other.Url && e.Auth == other.Auth
}

// ToHeaderValue retrieves the value of the authorization header from
// AuthorizationData.
func (d *AuthorizationData) ToHeaderValue() (string, error) {
	switch d.Method {
	case authorization.Basic:
		return "Basic " + d.Value, nil
	case authorization.Bearer:
		return "Bearer " + d.Value, nil
	case authorization.None:
		return "", nil
	}
	return "", errors.New("could not create header value from unknown authorization method")
}

// HttpEndpoint parses a provider string into an endpoint. The string may
// carry one comma separating the URL from an authorization value of the form
// "Basic user:password" or "Bearer token".
func HttpEndpoint(provider string) Endpoint {
	endpoint := Endpoint{Url: "", Auth: AuthorizationData{Method: authorization.None, Value: ""}}

	parts := strings.Split(provider, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	endpoint.Url = parts[0]
	if len(parts) == 1 {
		return endpoint
	}
	if len(parts) > 2 {
		log.Errorf("Skipping authorization: endpoint string has %d commas, expected at most one", len(parts)-1)
		return endpoint
	}
	method := authorization.FromString(strings.SplitN(parts[1], " ", 2)[0])
	switch method {
	case authorization.Basic:
		basicAuthValues := strings.SplitN(parts[1], " ", 2)
		if len(basicAuthValues) != 2 {
			log.Error("Skipping authorization: basic authorization has incorrect format")
			return endpoint
		}
		endpoint.Auth.Method = authorization.Basic
		endpoint.Auth.Value = base64.StdEncoding.EncodeToString([]byte(basicAuthValues[1]))
	case authorization.Bearer:
		bearerValues := strings.SplitN(parts[1], " ", 2)
		if len(bearerValues) != 2 {
			log.Error("Skipping authorization: bearer authorization has incorrect format")
			return endpoint
		}
		endpoint.Auth.Method = authorization.Bearer
		endpoint.Auth.Value = bearerValues[1]
	default:
		log.Error("Skipping authorization: scheme is not supported")
	}
	return endpoint
}

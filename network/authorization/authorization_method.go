// Package authorization enumerates the HTTP authorization schemes supported
// for RPC endpoints.
package authorization

// Method is the authorization scheme attached to an endpoint.
type Method uint8

const (
	// None means no authorization header is sent.
	None Method = iota
	// Basic uses a base64 encoded username:password pair.
	Basic
	// Bearer sends a static bearer token.
	Bearer
	// JWT signs a fresh HS256 token per request from a shared secret.
	JWT
)

// FromString parses the scheme prefix of an authorization value.
func FromString(s string) Method {
	switch s {
	case "Basic":
		return Basic
	case "Bearer":
		return Bearer
	default:
		return None
	}
}

func (m Method) String() string {
	switch m {
	case Basic:
		return "Basic"
	case Bearer:
		return "Bearer"
	case JWT:
		return "JWT"
	default:
		return "None"
	}
}

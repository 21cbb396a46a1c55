package network

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "network")

type jwtTransport struct {
	underlyingTransport http.RoundTripper
	jwtSecret           []byte
}

// RoundTrip signs a fresh short-lived HS256 token for every request, the
// scheme private RPC gateways expect.
func (t *jwtTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
	})
	tokenString, err := token.SignedString(t.jwtSecret)
	if err != nil {
		return nil, errors.Wrap(err, "could not produce signed JWT token")
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)
	return t.underlyingTransport.RoundTrip(req)
}

// NewHttpClientWithSecret builds an HTTP client whose every request carries a
// freshly signed JWT bearer token.
func NewHttpClientWithSecret(secret []byte, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &jwtTransport{
			underlyingTransport: http.DefaultTransport,
			jwtSecret:           secret,
		},
	}
}

type authTransport struct {
	underlyingTransport http.RoundTripper
	header              string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", t.header)
	return t.underlyingTransport.RoundTrip(req)
}

// NewHttpClientWithAuth builds an HTTP client that attaches the endpoint's
// static authorization header to every request. With no authorization data a
// plain client with the given timeout is returned.
func NewHttpClientWithAuth(auth AuthorizationData, timeout time.Duration) (*http.Client, error) {
	header, err := auth.ToHeaderValue()
	if err != nil {
		return nil, err
	}
	if header == "" {
		return &http.Client{Timeout: timeout}, nil
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &authTransport{
			underlyingTransport: http.DefaultTransport,
			header:              header,
		},
	}, nil
}

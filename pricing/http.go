package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// defaultRequestTimeout bounds one upstream price fetch.
const defaultRequestTimeout = 10 * time.Second

// HTTPOracle queries an upstream price service speaking a flat JSON
// contract: GET {base}/prices?chain=<id>&addresses=<a,b,c> returning
// {"prices": {"0x..": 1.23, ...}}.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracle builds an oracle against the given base URL.
func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

type priceResponse struct {
	Prices map[string]float64 `json:"prices"`
}

// Prices implements Oracle with one batched upstream call.
func (o *HTTPOracle) Prices(ctx context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]float64, error) {
	if len(addrs) == 0 {
		return map[types.Address]float64{}, nil
	}
	joined := make([]string, len(addrs))
	for i, addr := range addrs {
		joined[i] = string(addr)
	}
	endpoint := fmt.Sprintf("%s/prices?chain=%d&addresses=%s",
		o.baseURL, chainId, url.QueryEscape(strings.Join(joined, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build price request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch prices")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close price response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("price service returned status %d", resp.StatusCode)
	}
	var decoded priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "decode price response")
	}
	out := make(map[types.Address]float64, len(decoded.Prices))
	for addr, price := range decoded.Prices {
		normalized, err := types.NormalizeAddress(addr)
		if err != nil || price < 0 {
			continue
		}
		out[normalized] = price
	}
	return out, nil
}

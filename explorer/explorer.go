// Package explorer talks to etherscan-compatible block explorer APIs. The
// discovery pipeline uses it, when configured, as a shortcut for the token
// contracts a wallet has touched, instead of crawling logs itself.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "explorer")

const requestTimeout = 15 * time.Second

// Client queries one chain's explorer API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient builds a client for an etherscan-compatible endpoint such as
// https://api.etherscan.io/api.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type tokenTxEntry struct {
	ContractAddress string `json:"contractAddress"`
}

// TokenContracts returns the distinct token contracts the wallet transacted
// with in [from, to], according to the explorer's tokentx index.
func (c *Client) TokenContracts(ctx context.Context, wallet types.Address, from, to uint64) ([]types.Address, error) {
	endpoint := fmt.Sprintf(
		"%s?module=account&action=tokentx&address=%s&startblock=%d&endblock=%d&sort=asc&apikey=%s",
		c.baseURL, wallet, from, to, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build explorer request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "query explorer")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close explorer response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("explorer returned status %d", resp.StatusCode)
	}
	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "decode explorer response")
	}
	var entries []tokenTxEntry
	if err := json.Unmarshal(decoded.Result, &entries); err != nil {
		// Error payloads carry a plain string in result.
		var detail string
		if json.Unmarshal(decoded.Result, &detail) == nil && detail != "" {
			return nil, errors.Errorf("explorer rejected request: %s", detail)
		}
		return nil, errors.Errorf("explorer rejected request: %s", decoded.Message)
	}
	// "No transactions found" arrives with status 0 and an empty result
	// array, which is a valid empty answer.
	if decoded.Status != "1" && len(entries) > 0 {
		return nil, errors.Errorf("explorer rejected request: %s", decoded.Message)
	}
	seen := make(map[types.Address]bool, len(entries))
	contracts := make([]types.Address, 0, len(entries))
	for _, entry := range entries {
		addr, err := types.NormalizeAddress(entry.ContractAddress)
		if err != nil {
			continue
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		contracts = append(contracts, addr)
	}
	return contracts, nil
}

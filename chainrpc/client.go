package chainrpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/tokenscopelabs/tokenscope/network"
	"github.com/tokenscopelabs/tokenscope/network/authorization"
)

// RPCClient is the subset of the geth RPC client the pool relies on, narrow
// enough for tests to fake.
type RPCClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	BatchCallContext(ctx context.Context, b []gethRPC.BatchElem) error
	Close()
}

// DialFn dials one endpoint and returns a ready client.
type DialFn func(ctx context.Context, endpoint network.Endpoint, timeout time.Duration, jwtSecret []byte) (RPCClient, error)

func dialEndpoint(ctx context.Context, endpoint network.Endpoint, timeout time.Duration, jwtSecret []byte) (RPCClient, error) {
	if strings.HasPrefix(endpoint.Url, "http") {
		var httpClient *http.Client
		var err error
		if len(jwtSecret) > 0 && endpoint.Auth.Method == authorization.None {
			httpClient = network.NewHttpClientWithSecret(jwtSecret, timeout)
		} else {
			httpClient, err = network.NewHttpClientWithAuth(endpoint.Auth, timeout)
			if err != nil {
				return nil, err
			}
		}
		return gethRPC.DialHTTPWithClient(endpoint.Url, httpClient)
	}
	// Websocket and IPC endpoints carry no authorization header.
	return gethRPC.DialContext(ctx, endpoint.Url)
}

// toFilterArg converts a FilterQuery into the eth_getLogs wire argument.
func toFilterArg(q ethereum.FilterQuery) (interface{}, error) {
	arg := map[string]interface{}{
		"address": q.Addresses,
		"topics":  q.Topics,
	}
	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
		if q.FromBlock != nil || q.ToBlock != nil {
			return nil, fmt.Errorf("cannot specify both BlockHash and FromBlock/ToBlock")
		}
		return arg, nil
	}
	arg["fromBlock"] = toBlockNumArg(q.FromBlock)
	arg["toBlock"] = toBlockNumArg(q.ToBlock)
	return arg, nil
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

// callMsg is the eth_call wire argument for a read-only contract call.
type callMsg struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

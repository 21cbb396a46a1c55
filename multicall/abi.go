package multicall

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// Multicall3 tryAggregate and the ERC-20 read surface the engine packs.
const (
	multicallABIJSON = `[{"inputs":[{"internalType":"bool","name":"requireSuccess","type":"bool"},{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call[]","name":"calls","type":"tuple[]"}],"name":"tryAggregate","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

	erc20ABIJSON = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}]`
)

var (
	multicallABI abi.ABI
	erc20ABI     abi.ABI
)

func init() {
	var err error
	multicallABI, err = abi.JSON(strings.NewReader(multicallABIJSON))
	if err != nil {
		panic(err)
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(err)
	}
}

// aggregateCall mirrors the Multicall3.Call tuple.
type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

// aggregateResult mirrors the Multicall3.Result tuple.
type aggregateResult struct {
	Success    bool
	ReturnData []byte
}

func packTryAggregate(calls []Call) ([]byte, error) {
	tuples := make([]aggregateCall, len(calls))
	for i, c := range calls {
		tuples[i] = aggregateCall{Target: c.Target, CallData: c.CallData}
	}
	return multicallABI.Pack("tryAggregate", false, tuples)
}

func unpackTryAggregate(data []byte) ([]aggregateResult, error) {
	out, err := multicallABI.Unpack("tryAggregate", data)
	if err != nil {
		return nil, errors.Wrap(err, "unpack tryAggregate")
	}
	results := *abi.ConvertType(out[0], new([]aggregateResult)).(*[]aggregateResult)
	return results, nil
}

// BalanceOfCalls builds one balanceOf(wallet) call per token.
func BalanceOfCalls(wallet common.Address, tokens []types.Address) ([]Call, error) {
	calls := make([]Call, len(tokens))
	for i, token := range tokens {
		data, err := erc20ABI.Pack("balanceOf", wallet)
		if err != nil {
			return nil, errors.Wrapf(err, "pack balanceOf for %s", token)
		}
		calls[i] = Call{Target: token.Common(), CallData: data}
	}
	return calls, nil
}

// MetadataCalls builds the symbol, name and decimals calls for one token, in
// that order.
func MetadataCalls(token types.Address) ([]Call, error) {
	calls := make([]Call, 0, 3)
	for _, method := range []string{"symbol", "name", "decimals"} {
		data, err := erc20ABI.Pack(method)
		if err != nil {
			return nil, errors.Wrapf(err, "pack %s for %s", method, token)
		}
		calls = append(calls, Call{Target: token.Common(), CallData: data})
	}
	return calls, nil
}

// DecodeBalance extracts the uint256 result of a balanceOf call.
func DecodeBalance(res Result) (*big.Int, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	if !res.Success || len(res.ReturnData) == 0 {
		return nil, errors.Wrap(types.ErrCallFailed, "balanceOf returned no data")
	}
	out, err := erc20ABI.Unpack("balanceOf", res.ReturnData)
	if err != nil {
		return nil, errors.Wrap(err, "decode balanceOf")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf result is not uint256")
	}
	return balance, nil
}

// DecodeTokenString extracts a string result, accepting both the standard
// dynamic string encoding and the legacy bytes32 form some old tokens use.
func DecodeTokenString(method string, res Result) (string, error) {
	if res.Err != nil {
		return "", res.Err
	}
	if !res.Success || len(res.ReturnData) == 0 {
		return "", errors.Wrapf(types.ErrCallFailed, "%s returned no data", method)
	}
	if out, err := erc20ABI.Unpack(method, res.ReturnData); err == nil {
		if s, ok := out[0].(string); ok {
			return strings.TrimSpace(strings.Trim(s, "\x00")), nil
		}
	}
	if len(res.ReturnData) == 32 {
		return strings.TrimSpace(strings.Trim(string(res.ReturnData), "\x00")), nil
	}
	return "", errors.Errorf("could not decode %s result", method)
}

// DecodeDecimals extracts the uint8 result of a decimals call.
func DecodeDecimals(res Result) (uint8, error) {
	if res.Err != nil {
		return 0, res.Err
	}
	if !res.Success || len(res.ReturnData) == 0 {
		return 0, errors.Wrap(types.ErrCallFailed, "decimals returned no data")
	}
	out, err := erc20ABI.Unpack("decimals", res.ReturnData)
	if err != nil {
		return 0, errors.Wrap(err, "decode decimals")
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("decimals result is not uint8")
	}
	return d, nil
}

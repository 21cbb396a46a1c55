package chains

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// multicall3Addr is the canonical Multicall3 deployment, identical across the
// supported chains.
var multicall3Addr = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// EthereumProfile is the compiled-in profile for ethereum mainnet.
func EthereumProfile() *Profile {
	return &Profile{
		Id:             1,
		Name:           "ethereum",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		RpcEndpoints: []string{
			"https://eth.llamarpc.com",
			"https://rpc.ankr.com/eth",
			"https://cloudflare-eth.com",
		},
		MulticallAddress:   multicall3Addr,
		LogChunkSize:       2000,
		ScannerConcurrency: 4,
		StartBlock:         10000000,
		ExplorerURL:        "https://api.etherscan.io/api",
		BlockTime:          12 * time.Second,
	}
}

// BscProfile is the compiled-in profile for BNB smart chain.
func BscProfile() *Profile {
	return &Profile{
		Id:             56,
		Name:           "bsc",
		NativeSymbol:   "BNB",
		NativeDecimals: 18,
		RpcEndpoints: []string{
			"https://bsc-dataseed1.binance.org",
			"https://bsc-dataseed2.binance.org",
			"https://rpc.ankr.com/bsc",
		},
		MulticallAddress:   multicall3Addr,
		LogChunkSize:       1000,
		ScannerConcurrency: 4,
		StartBlock:         5000000,
		ExplorerURL:        "https://api.bscscan.com/api",
		BlockTime:          3 * time.Second,
	}
}

// BaseProfile is the compiled-in profile for base mainnet.
func BaseProfile() *Profile {
	return &Profile{
		Id:             8453,
		Name:           "base",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		RpcEndpoints: []string{
			"https://mainnet.base.org",
			"https://rpc.ankr.com/base",
		},
		MulticallAddress:   multicall3Addr,
		LogChunkSize:       2000,
		ScannerConcurrency: 2,
		StartBlock:         1,
		ExplorerURL:        "https://api.basescan.org/api",
		BlockTime:          2 * time.Second,
	}
}

func defaultProfiles() []*Profile {
	return []*Profile{EthereumProfile(), BscProfile(), BaseProfile()}
}

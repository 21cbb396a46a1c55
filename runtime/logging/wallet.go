// Package logging provides field extractors shared by every package that logs
// per-wallet work, so the same job greps the same way across service
// boundaries.
package logging

import (
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/types"
)

// WalletFields extracts the standard set of fields identifying per-wallet work
// on one chain into a logrus.Fields struct which can be passed to
// log.WithFields.
func WalletFields(chainId types.ChainId, wallet types.Address) logrus.Fields {
	return logrus.Fields{
		"chain":  ChainName(chainId),
		"wallet": wallet,
	}
}

// WindowFields identifies an inclusive block scan window on a chain.
func WindowFields(chainId types.ChainId, from, to uint64) logrus.Fields {
	return logrus.Fields{
		"chain": ChainName(chainId),
		"from":  from,
		"to":    to,
	}
}

// ChainName resolves a chain id to its registered profile name, falling back
// to the numeric id for chains with no profile.
func ChainName(chainId types.ChainId) string {
	if profile, err := chains.ById(chainId); err == nil {
		return profile.Name
	}
	return strconv.FormatUint(uint64(chainId), 10)
}

package node

import (
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/cmd/tokenscope/flags"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/urfave/cli/v2"
)

// endpointFlags maps compiled-in profiles to their endpoint override flags.
var endpointFlags = map[string]*cli.StringSliceFlag{
	"ethereum": flags.EthRpcUrlsFlag,
	"bsc":      flags.BscRpcUrlsFlag,
	"base":     flags.BaseRpcUrlsFlag,
}

var explorerKeyFlags = map[string]*cli.StringFlag{
	"ethereum": flags.EthExplorerApiKeyFlag,
	"bsc":      flags.BscExplorerApiKeyFlag,
	"base":     flags.BaseExplorerApiKeyFlag,
}

// configureChains applies the profile override file and per-chain flag values
// before any pool dials out.
func configureChains(cliCtx *cli.Context) error {
	if cliCtx.IsSet(flags.ChainsConfigFlag.Name) {
		if err := chains.LoadProfilesFile(cliCtx.String(flags.ChainsConfigFlag.Name)); err != nil {
			return errors.Wrap(err, "could not load chain profiles")
		}
	}
	for _, profile := range chains.All() {
		if f, ok := endpointFlags[profile.Name]; ok && cliCtx.IsSet(f.Name) {
			if err := chains.SetEndpoints(profile.Id, cliCtx.StringSlice(f.Name)); err != nil {
				return err
			}
		}
		if f, ok := explorerKeyFlags[profile.Name]; ok && cliCtx.IsSet(f.Name) {
			if err := chains.SetExplorerAPIKey(profile.Id, cliCtx.String(f.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseJwtSecret reads the hex encoded secret used to authenticate with
// providers behind a JWT gateway. A missing flag yields a nil secret.
func parseJwtSecret(cliCtx *cli.Context) ([]byte, error) {
	jwtSecretFile := cliCtx.String(flags.RpcJwtSecretFlag.Name)
	if jwtSecretFile == "" {
		return nil, nil
	}
	enc, err := os.ReadFile(jwtSecretFile)
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 {
		return nil, errors.Errorf("provided JWT secret in file %s cannot be empty", jwtSecretFile)
	}
	secret, err := hexutil.Decode(strings.TrimSpace(string(enc)))
	if err != nil {
		return nil, err
	}
	if len(secret) != 32 {
		return nil, errors.New("provided JWT secret should be a hex string of 32 bytes")
	}
	return secret, nil
}

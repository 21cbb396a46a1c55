// Package jwt defines a subcommand generating the shared secret consumed by
// the --rpc-jwt-secret flag.
package jwt

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/cmd"
	"github.com/urfave/cli/v2"
)

var log = logrus.WithField("prefix", "jwt")

var outputFlag = &cli.StringFlag{
	Name:  "output",
	Usage: "The filepath the hex encoded secret is written to.",
	Value: "secret.jwt",
}

// Commands creates a random 32 byte hex string in a plaintext file, in the
// format providers behind a JWT gateway expect.
var Commands = &cli.Command{
	Name:        "generate-jwt-secret",
	Usage:       "creates a random 32 byte hex string in a plaintext file",
	Description: `creates a random 32 byte hex string in a plaintext file, consumable through the --rpc-jwt-secret flag`,
	Flags: cmd.WrapFlags([]cli.Flag{
		outputFlag,
	}),
	Action: func(cliCtx *cli.Context) error {
		if err := generateJwtSecretFile(cliCtx.String(outputFlag.Name)); err != nil {
			log.WithError(err).Error("Could not generate secret")
		}
		return nil
	},
}

func generateJwtSecretFile(fileName string) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return errors.Wrap(err, "could not generate random secret")
	}
	if err := os.WriteFile(fileName, []byte(hexutil.Encode(secret)), 0600); err != nil {
		return err
	}
	jwtPath, err := filepath.Abs(fileName)
	if err != nil {
		return err
	}
	log.WithField("path", jwtPath).Info("Wrote JWT secret")
	return nil
}

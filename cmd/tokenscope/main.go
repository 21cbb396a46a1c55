// Package main defines the tokenscope node implementation. A tokenscope node
// maintains ERC-20 portfolio snapshots for wallets across several EVM chains
// and serves them over a JSON HTTP interface.
package main

import (
	"fmt"
	"os"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/cmd"
	"github.com/tokenscopelabs/tokenscope/cmd/tokenscope/flags"
	"github.com/tokenscopelabs/tokenscope/cmd/tokenscope/jwt"
	"github.com/tokenscopelabs/tokenscope/io/logs"
	"github.com/tokenscopelabs/tokenscope/node"
	"github.com/tokenscopelabs/tokenscope/runtime/version"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	_ "go.uber.org/automaxprocs"
)

var log = logrus.WithField("prefix", "main")

func startNode(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	n, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	n.Start()
	return nil
}

var appFlags = []cli.Flag{
	cmd.VerbosityFlag,
	cmd.DataDirFlag,
	cmd.LogFormat,
	cmd.LogFileName,
	cmd.ConfigFileFlag,
	cmd.MonitoringHostFlag,
	cmd.DisableMonitoringFlag,
	flags.MonitoringPortFlag,
	flags.HTTPHost,
	flags.HTTPPort,
	flags.CorsOriginsFlag,
	flags.PgHostFlag,
	flags.PgPortFlag,
	flags.PgUserFlag,
	flags.PgPasswordFlag,
	flags.PgDatabaseFlag,
	flags.PgMaxConnectionsFlag,
	flags.EthRpcUrlsFlag,
	flags.BscRpcUrlsFlag,
	flags.BaseRpcUrlsFlag,
	flags.EthExplorerApiKeyFlag,
	flags.BscExplorerApiKeyFlag,
	flags.BaseExplorerApiKeyFlag,
	flags.ChainsConfigFlag,
	flags.RpcTimeoutFlag,
	flags.RpcJwtSecretFlag,
	flags.CacheTTLFlag,
	flags.CleanupIntervalFlag,
	flags.RefreshIntervalFlag,
	flags.PriceOracleUrlFlag,
	flags.MaxConcurrentBuildsFlag,
}

func init() {
	appFlags = cmd.WrapFlags(appFlags)
}

func main() {
	app := cli.App{}
	app.Name = "tokenscope"
	app.Usage = "maintains wallet portfolio snapshots across EVM chains and serves them over HTTP."
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startNode
	app.Commands = []*cli.Command{
		jwt.Commands,
	}
	app.Before = func(ctx *cli.Context) error {
		// Load any flags from file, if specified.
		if ctx.IsSet(cmd.ConfigFileFlag.Name) {
			if err := altsrc.InitInputSourceWithContext(
				appFlags,
				altsrc.NewYamlSourceFromFlagFunc(
					cmd.ConfigFileFlag.Name))(ctx); err != nil {
				return err
			}
		}

		format := ctx.String(cmd.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(cmd.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(cmd.LogFileName.Name)
		if logFileName != "" {
			if err := logs.ConfigurePersistentLogging(logFileName); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

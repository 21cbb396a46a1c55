// This code was adapted from https://github.com/ethereum/go-ethereum/blob/master/cmd/geth/usage.go
package main

import (
	"io"
	"sort"

	"github.com/tokenscopelabs/tokenscope/cmd"
	"github.com/tokenscopelabs/tokenscope/cmd/tokenscope/flags"
	"github.com/urfave/cli/v2"
)

var appHelpTemplate = `NAME:
   {{.App.Name}} - {{.App.Usage}}
USAGE:
   {{.App.HelpName}} [options]{{if .App.Commands}} command [command options]{{end}} {{if .App.ArgsUsage}}{{.App.ArgsUsage}}{{else}}[arguments...]{{end}}
   {{if .App.Version}}
AUTHOR:
   {{range .App.Authors}}{{ . }}{{end}}
   {{end}}{{if .App.Commands}}
GLOBAL OPTIONS:
   {{range .App.Commands}}{{join .Names ", "}}{{ "\t" }}{{.Usage}}
   {{end}}{{end}}{{if .FlagGroups}}
{{range .FlagGroups}}{{.Name}} OPTIONS:
   {{range .Flags}}{{.}}
   {{end}}
{{end}}{{end}}{{if .App.Copyright }}
COPYRIGHT:
   {{.App.Copyright}}
VERSION:
   {{.App.Version}}
   {{end}}{{if len .App.Authors}}
   {{end}}
`

type flagGroup struct {
	Name  string
	Flags []cli.Flag
}

var appHelpFlagGroups = []flagGroup{
	{
		Name: "cmd",
		Flags: []cli.Flag{
			cmd.VerbosityFlag,
			cmd.DataDirFlag,
			cmd.ConfigFileFlag,
			cmd.MonitoringHostFlag,
			flags.MonitoringPortFlag,
			cmd.DisableMonitoringFlag,
		},
	},
	{
		Name: "api",
		Flags: []cli.Flag{
			flags.HTTPHost,
			flags.HTTPPort,
			flags.CorsOriginsFlag,
		},
	},
	{
		Name: "db",
		Flags: []cli.Flag{
			flags.PgHostFlag,
			flags.PgPortFlag,
			flags.PgUserFlag,
			flags.PgPasswordFlag,
			flags.PgDatabaseFlag,
			flags.PgMaxConnectionsFlag,
		},
	},
	{
		Name: "chains",
		Flags: []cli.Flag{
			flags.EthRpcUrlsFlag,
			flags.BscRpcUrlsFlag,
			flags.BaseRpcUrlsFlag,
			flags.EthExplorerApiKeyFlag,
			flags.BscExplorerApiKeyFlag,
			flags.BaseExplorerApiKeyFlag,
			flags.ChainsConfigFlag,
			flags.RpcTimeoutFlag,
			flags.RpcJwtSecretFlag,
		},
	},
	{
		Name: "snapshots",
		Flags: []cli.Flag{
			flags.CacheTTLFlag,
			flags.CleanupIntervalFlag,
			flags.RefreshIntervalFlag,
			flags.PriceOracleUrlFlag,
			flags.MaxConcurrentBuildsFlag,
		},
	},
	{
		Name: "log",
		Flags: []cli.Flag{
			cmd.LogFormat,
			cmd.LogFileName,
		},
	},
}

func init() {
	cli.AppHelpTemplate = appHelpTemplate

	type helpData struct {
		App        interface{}
		FlagGroups []flagGroup
	}

	originalHelpPrinter := cli.HelpPrinter
	cli.HelpPrinter = func(w io.Writer, tmpl string, data interface{}) {
		if tmpl == appHelpTemplate {
			for _, group := range appHelpFlagGroups {
				sort.Sort(cli.FlagsByName(group.Flags))
			}
			originalHelpPrinter(w, tmpl, helpData{data, appHelpFlagGroups})
		} else {
			originalHelpPrinter(w, tmpl, data)
		}
	}
}

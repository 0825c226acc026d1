package waktu

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/waktusolat-mcp/pkg/cache"
	"github.com/liliang-cn/waktusolat-mcp/pkg/config"
	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
	"github.com/liliang-cn/waktusolat-mcp/pkg/tools"
	"github.com/liliang-cn/waktusolat-mcp/pkg/waktusolat"
)

const serverName = "waktusolat-mcp"

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "waktu",
	Short: "Malaysia prayer times (waktu solat) tool server",
	Long: `waktu serves Malaysian prayer times from the waktusolat.app API as tools
over a line-delimited JSON-RPC stdio protocol or the Model Context Protocol,
and offers the same lookups as plain commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		return log.Setup(os.Stderr, cfg.Log.Format, level)
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// GetRootCmd returns the root cobra command for testing purposes.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// SetVersion sets the version reported by the CLI and the servers.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "waktu version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./config.yaml, ./config.yml, ./config.json or ./config.toml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(zonesCmd)
	RootCmd.AddCommand(timesCmd)
	RootCmd.AddCommand(nowCmd)
	RootCmd.AddCommand(locateCmd)
	RootCmd.AddCommand(configCmd)
}

// app holds the collaborators shared by every command, built from cfg.
type app struct {
	client   *waktusolat.Client
	cache    *cache.MemoryCache
	handlers *tools.Handlers
}

func newApp(c *config.Config) (*app, error) {
	loc := c.Server.Location()
	client, err := waktusolat.NewClient(waktusolat.Options{
		BaseURL:         c.HTTP.BaseURL,
		Timeout:         c.HTTP.TimeoutDuration(),
		MaxRetries:      c.HTTP.MaxRetries,
		PoolConnections: c.HTTP.PoolConnections,
		VerifySSL:       c.HTTP.VerifySSL,
		UserAgent:       serverName + "/" + version,
		Location:        loc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	mc := cache.NewMemoryCache(c.Cache.MaxSize, c.Cache.DefaultTTL())
	return &app{
		client:   client,
		cache:    mc,
		handlers: tools.NewHandlers(client, mc, tools.Options{Location: loc}),
	}, nil
}

func (a *app) Close() error { return a.client.Close() }

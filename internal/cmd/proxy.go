package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datawizz/local-logger/internal/ca"
	"github.com/datawizz/local-logger/internal/config"
	"github.com/datawizz/local-logger/internal/leaf"
	"github.com/datawizz/local-logger/internal/logsink"
	"github.com/datawizz/local-logger/internal/proxyserver"
)

var (
	proxyPort    int
	proxyAddress string
	proxyConfig  string
)

// proxyCmd runs the front door and MITM tunnel (spec.md §4.5–§4.6) to
// completion, blocking until the process is signaled.
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the HTTPS interception proxy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := viper.New()
		config.Bind(v)

		if proxyConfig != "" {
			v.SetConfigFile(proxyConfig)
			if err := v.ReadInConfig(); err != nil {
				return newExitError(1, fmt.Errorf("read config %s: %w", proxyConfig, err))
			}
		}
		if cmd.Flags().Changed("port") {
			v.Set("proxy.listen_port", proxyPort)
		}
		if cmd.Flags().Changed("address") {
			v.Set("proxy.listen_addr", proxyAddress)
		}

		cfg, err := config.FromViper(v)
		if err != nil {
			return newExitError(1, err)
		}

		if !cfg.IsLoopback() {
			logger.Warn("proxy.listen_addr is not loopback; interception will not be authenticated", "addr", cfg.Proxy.ListenAddr)
		}

		store := ca.NewStore(cfg.TLS.CertDir)
		var authority *ca.CA
		if cfg.TLS.GenerateCA {
			authority, err = store.LoadOrInit()
		} else {
			authority, err = store.Load()
		}
		if err != nil {
			if errors.Is(err, ca.ErrInconsistent) {
				return newExitError(2, fmt.Errorf("%w (run `local-logger init --force` to repair)", err))
			}
			return newExitError(1, err)
		}

		sink, err := logsink.New(cfg.Recording.OutputDir)
		if err != nil {
			return newExitError(1, err)
		}

		minter := leaf.New(authority)
		recorder := proxyserver.NewRecorder(sink)
		allow := proxyserver.NewAllowList(cfg.Filtering.TargetHosts)

		front, err := proxyserver.NewFrontDoor(proxyserver.Options{
			ListenAddr:    cfg.Proxy.ListenAddr,
			ListenPort:    cfg.Proxy.ListenPort,
			Allow:         allow,
			Minter:        minter,
			Recorder:      recorder,
			Logger:        logger,
			IncludeBodies: cfg.Recording.IncludeBodies,
			MaxBodySize:   cfg.Recording.MaxBodySize,
		})
		if err != nil {
			return newExitError(3, err)
		}

		logger.Info("proxy listening",
			"addr", front.Addr().String(),
			"cert_dir", cfg.TLS.CertDir,
			"log_dir", sink.Dir(),
			"target_hosts", cfg.Filtering.TargetHosts,
		)

		ctx := cmd.Context()
		serveErr := make(chan error, 1)
		go func() { serveErr <- front.Serve() }()

		select {
		case <-ctx.Done():
			_ = front.Close()
			<-serveErr
			return nil
		case err := <-serveErr:
			if err != nil {
				return newExitError(3, err)
			}
			return nil
		}
	},
}

func init() {
	proxyCmd.Flags().IntVarP(&proxyPort, "port", "p", 0, "listen port (overrides config)")
	proxyCmd.Flags().StringVarP(&proxyAddress, "address", "a", "", "listen address (overrides config)")
	proxyCmd.Flags().StringVarP(&proxyConfig, "config", "c", "", "path to config file")
}

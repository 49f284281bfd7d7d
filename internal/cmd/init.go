package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datawizz/local-logger/internal/ca"
	"github.com/datawizz/local-logger/internal/config"
)

var (
	initForce   bool
	initCertDir string
	initQuiet   bool
)

// initCmd runs the CA lifecycle (spec.md §4.3) standalone, for repairing
// an inconsistent cert_dir or pre-provisioning a CA before `proxy` runs.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or repair the local certificate authority",
	RunE: func(_ *cobra.Command, _ []string) error {
		certDir := initCertDir
		if certDir == "" {
			cfg, err := config.Load("")
			if err != nil {
				return newExitError(1, err)
			}
			certDir = cfg.TLS.CertDir
		}

		store := ca.NewStore(certDir)
		if initForce {
			if err := store.Force(); err != nil {
				return newExitError(1, err)
			}
		}

		if _, err := store.LoadOrInit(); err != nil {
			return newExitError(2, fmt.Errorf("%w (retry with --force)", err))
		}

		if !initQuiet {
			fmt.Printf("local-logger: certificate authority ready at %s\n", certDir)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "delete and regenerate an existing CA")
	initCmd.Flags().StringVar(&initCertDir, "cert-dir", "", "certificate directory (default from config)")
	initCmd.Flags().BoolVarP(&initQuiet, "quiet", "q", false, "suppress success output")
}

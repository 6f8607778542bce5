// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	tlscerts "github.com/holomush/authcore/internal/tls"
	"github.com/holomush/authcore/internal/xdg"
)

// operatorCertName is the client certificate used by status against an mTLS
// control listener.
const operatorCertName = "operator"

type certsConfig struct {
	dir        string
	deployment string
	hosts      []string
	force      bool
}

// NewCertsCmd creates the certs subcommand group.
func NewCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage the control listener certificates",
	}
	cmd.AddCommand(newCertsGenerateCmd())
	return cmd
}

func newCertsGenerateCmd() *cobra.Command {
	cc := &certsConfig{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a private CA with control server and operator client certificates",
		Long: `Creates root-ca.crt/key, control.crt/key and operator.crt/key. Point
control.tls_dir at the directory to require mutual TLS on the gRPC health
listener; status uses the operator certificate to connect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := certsDir(cc.dir)
			if err != nil {
				return err
			}
			return generateCerts(cmd, dir, cc)
		},
	}
	cmd.Flags().StringVar(&cc.dir, "dir", "", "output directory (default: XDG_CONFIG_HOME/authcore/certs)")
	cmd.Flags().StringVar(&cc.deployment, "deployment", "default", "deployment name embedded in the CA common name")
	cmd.Flags().StringSliceVar(&cc.hosts, "hosts", nil, "extra DNS names or IPs for the control certificate")
	cmd.Flags().BoolVar(&cc.force, "force", false, "replace an existing CA")
	return cmd
}

func generateCerts(cmd *cobra.Command, dir string, cc *certsConfig) error {
	if !cc.force {
		_, err := os.Stat(filepath.Join(dir, tlscerts.CACertFile))
		if err == nil {
			return oops.Code("CERTS_EXIST").With("dir", dir).
				Errorf("a CA already exists in %s (use --force to replace it)", dir)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return oops.Code("CERTS_FAILED").With("dir", dir).Wrap(err)
		}
	}

	ca, err := tlscerts.GenerateCA(cc.deployment)
	if err != nil {
		return oops.Code("CERTS_FAILED").With("operation", "generate CA").Wrap(err)
	}
	server, err := tlscerts.GenerateCert(ca, controlCertName, tlscerts.UsageServer, cc.hosts...)
	if err != nil {
		return oops.Code("CERTS_FAILED").With("operation", "generate control certificate").Wrap(err)
	}
	client, err := tlscerts.GenerateCert(ca, operatorCertName, tlscerts.UsageClient)
	if err != nil {
		return oops.Code("CERTS_FAILED").With("operation", "generate operator certificate").Wrap(err)
	}
	if err := tlscerts.Save(dir, ca, server, client); err != nil {
		return oops.Code("CERTS_FAILED").With("dir", dir).Wrap(err)
	}

	cmd.Printf("Wrote CA, %s and %s certificates to %s\n", controlCertName, operatorCertName, dir)
	return nil
}

// certsDir returns explicit or the default certificates directory.
func certsDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	base, err := xdg.ConfigDir()
	if err != nil {
		return "", oops.Code("CONFIG_PATH_FAILED").Wrap(err)
	}
	return filepath.Join(base, "certs"), nil
}

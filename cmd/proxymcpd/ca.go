package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/proxymcpd/proxymcpd/pkg/ca"
)

func newCACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Manage the interception CA",
		Long:  `Manage the locally generated root CA used to sign per-host leaf certificates.`,
	}

	cmd.AddCommand(
		newCAGenerateCmd(),
		newCAInfoCmd(),
		newCAInstallCmd(),
		newCAUninstallCmd(),
	)

	return cmd
}

type caGenerateOptions struct {
	certPath     string
	keyPath      string
	organization string
	commonName   string
	force        bool
}

func newCAGenerateCmd() *cobra.Command {
	opts := &caGenerateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new root CA",
		Long: `Generate a new 2048-bit RSA root CA and save it to disk.

Existing files at the target paths are left untouched unless --force is
given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCAGenerate(opts)
		},
	}

	cmd.Flags().StringVar(&opts.certPath, "cert-path", "", "Path to save the CA certificate (default: ~/.proxymcpd/ca/proxymcpd-ca.crt)")
	cmd.Flags().StringVar(&opts.keyPath, "key-path", "", "Path to save the CA private key (default: ~/.proxymcpd/ca/proxymcpd-ca.key)")
	cmd.Flags().StringVar(&opts.organization, "org", "", "Organization name for the CA subject")
	cmd.Flags().StringVar(&opts.commonName, "cn", "", "Common name for the CA subject")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing CA at the target paths")

	return cmd
}

func runCAGenerate(opts *caGenerateOptions) error {
	certPath := opts.certPath
	if certPath == "" {
		certPath = ca.DefaultCertPath()
	}
	keyPath := opts.keyPath
	if keyPath == "" {
		keyPath = ca.DefaultKeyPath()
	}

	if !opts.force {
		for _, p := range []string{certPath, keyPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("CA already exists at %s (use --force to overwrite)", p)
			}
		}
	}

	cfg := ca.DefaultConfig()
	if opts.organization != "" {
		cfg.Organization = opts.organization
	}
	if opts.commonName != "" {
		cfg.CommonName = opts.commonName
	}

	newCA, err := ca.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to generate CA: %w", err)
	}
	if err := newCA.Save(certPath, keyPath); err != nil {
		return fmt.Errorf("failed to save CA: %w", err)
	}

	fmt.Printf("CA certificate generated:\n")
	fmt.Printf("  Certificate: %s\n", certPath)
	fmt.Printf("  Private key: %s\n", keyPath)
	fmt.Printf("\nTo trust this CA: proxymcpd ca install\n")
	return nil
}

type caPathOptions struct {
	certPath string
	keyPath  string
}

func newCAInfoCmd() *cobra.Command {
	opts := &caPathOptions{}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show root CA certificate information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCAInfo(opts)
		},
	}

	cmd.Flags().StringVar(&opts.certPath, "cert-path", "", "Path to the CA certificate (default: ~/.proxymcpd/ca/proxymcpd-ca.crt)")
	cmd.Flags().StringVar(&opts.keyPath, "key-path", "", "Path to the CA private key (default: ~/.proxymcpd/ca/proxymcpd-ca.key)")
	return cmd
}

func runCAInfo(opts *caPathOptions) error {
	certPath := opts.certPath
	if certPath == "" {
		certPath = ca.DefaultCertPath()
	}
	keyPath := opts.keyPath
	if keyPath == "" {
		keyPath = ca.DefaultKeyPath()
	}

	loaded, err := ca.Load(certPath, keyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Run 'proxymcpd ca generate' to create one.")
		return fmt.Errorf("failed to load CA: %w", err)
	}

	fmt.Printf("CA Certificate:\n")
	fmt.Printf("  File:       %s\n", certPath)
	fmt.Printf("  Subject:    %s\n", loaded.Certificate.Subject.String())
	fmt.Printf("  Issuer:     %s\n", loaded.Certificate.Issuer.String())
	fmt.Printf("  Not Before: %s\n", loaded.Certificate.NotBefore.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Not After:  %s\n", loaded.Certificate.NotAfter.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Serial:     %s\n", loaded.Certificate.SerialNumber.String())
	return nil
}

// newCAInstallCmd and newCAUninstallCmd are documented stubs: installing a
// generated CA into the OS trust store is out of scope (spec.md's
// "CA-trust installation scripts" collaborator), so these print the manual
// steps rather than touching the trust store.
func newCAInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Print manual steps to trust the CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			certPath := ca.DefaultCertPath()
			fmt.Printf("Installing into the OS trust store is outside this tool's scope.\n\n")
			fmt.Printf("To trust %s manually:\n", certPath)
			fmt.Printf("  macOS:   security add-trusted-cert -d -r trustRoot -k /Library/Keychains/System.keychain %s\n", certPath)
			fmt.Printf("  Linux:   sudo cp %s /usr/local/share/ca-certificates/proxymcpd.crt && sudo update-ca-certificates\n", certPath)
			fmt.Printf("  Windows: certutil -addstore -f \"ROOT\" %s\n", certPath)
			return nil
		},
	}
}

func newCAUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Print manual steps to remove CA trust",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Removing the CA from the OS trust store is outside this tool's scope.")
			fmt.Println("Remove it using your OS's certificate manager, matching the subject printed by 'proxymcpd ca info'.")
			return nil
		},
	}
}

// Command proxymcpd is the intercepting HTTP/HTTPS/WebSocket capture proxy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "proxymcpd",
		Short: "Intercepting HTTP/HTTPS/WebSocket capture proxy",
		Long: `proxymcpd is a developer-facing intercepting proxy. It decrypts HTTPS
traffic via a locally generated CA, captures every request, response, and
WebSocket frame into an embedded searchable store, and exposes the
captured corpus through a typed tool API for an external collaborator.`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newCACmd(),
		newConfigCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

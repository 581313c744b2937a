package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type statusOptions struct {
	httpPort    int
	metricsPort int
	timeout     time.Duration
}

func newStatusCmd() *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether a running proxymcpd instance is reachable",
		Long: `Check whether a proxymcpd instance is reachable. With --metrics-port set,
queries that instance's /healthz endpoint; otherwise dials the proxy's
listener socket directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts)
		},
	}

	cmd.Flags().IntVar(&opts.httpPort, "http-port", 8080, "HTTP listener port to probe")
	cmd.Flags().IntVar(&opts.metricsPort, "metrics-port", 0, "Metrics port to query /healthz on, if enabled")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 3*time.Second, "Probe timeout")

	return cmd
}

func runStatus(opts *statusOptions) error {
	if opts.metricsPort > 0 {
		url := fmt.Sprintf("http://127.0.0.1:%d/healthz", opts.metricsPort)
		client := &http.Client{Timeout: opts.timeout}
		resp, err := client.Get(url)
		if err != nil {
			fmt.Printf("unreachable: %v\n", err)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("healthy")
			return nil
		}
		fmt.Printf("unhealthy (status %d)\n", resp.StatusCode)
		return fmt.Errorf("proxy reported unhealthy status")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", opts.httpPort)
	conn, err := net.DialTimeout("tcp", addr, opts.timeout)
	if err != nil {
		fmt.Printf("unreachable: %v\n", err)
		return err
	}
	conn.Close()
	fmt.Printf("listening on %s\n", addr)
	return nil
}

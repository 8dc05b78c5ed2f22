// Command bpagent runs a standing Bundle Protocol channel between a local
// and a remote endpoint ID, pumping Load/Process against a demonstration
// convergence layer (UDP by default). It's the daemon half of the pair with
// cmd/bpsend: bpagent keeps a channel open and relays whatever arrives on
// its payload queue to stdout, while bpsend makes one Store call and exits.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bpagent",
	Short: "Run a Bundle Protocol channel over a demonstration convergence layer",
	Long: `bpagent opens one channel between a local and remote endpoint ID and
keeps it alive: an outbound loop drains Load onto the convergence layer, an
inbound loop feeds received datagrams to Process, and a ticker drives
rate-triggered ACS emission.`,
	RunE: runAgent,
}

func init() {
	rootCmd.Flags().String("local", "", "local endpoint id, \"node.service\" (required)")
	rootCmd.Flags().String("remote", "", "remote endpoint id, \"node.service\" (required)")
	rootCmd.Flags().String("listen", "0.0.0.0:4556", "local UDP address to bind")
	rootCmd.Flags().String("peer", "", "remote UDP address to send to (required for outbound traffic)")
	rootCmd.Flags().String("transport", "udp", "convergence layer: udp or tcp")
	rootCmd.Flags().String("store", "mem", "persistence backend: mem or badger")
	rootCmd.Flags().String("store-dir", "./bpagent-store", "badger data directory (store=badger only)")
	rootCmd.Flags().Bool("request-custody", false, "request custody transfer for outbound bundles")
	rootCmd.Flags().String("wrap", "resend", "active-table wrap policy: resend, block, or drop")
	rootCmd.Flags().Uint64("acs-rate-ms", 1000, "ACS accumulator finalize interval in milliseconds")
	rootCmd.Flags().String("profile-file", "", "optional INI file of named channel option profiles")
	rootCmd.Flags().String("profile", "", "profile name to apply from --profile-file")
	rootCmd.Flags().String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	rootCmd.Flags().Bool("verbose", false, "debug-level logging")

	rootCmd.MarkFlagRequired("local")
	rootCmd.MarkFlagRequired("remote")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

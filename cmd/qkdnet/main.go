// Command qkdnet simulates message delivery across a quantum key
// distribution network with trusted relays and eavesdroppers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pkgversion "github.com/sara-star-quant/qkdnet/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "qkdnet",
		Short: "Multi-hop QKD network simulator",
		Long: `qkdnet delivers a message across a simulated quantum key distribution
network. Every hop runs BB84 or B92 over an in-memory quantum and classical
channel, trusted relays re-key the ciphertext hop by hop, and spies on the
path disturb qubits so the error rate gives them away.`,
		Example: `  # Run the built-in scenario
  qkdnet run

  # Run a scenario file with B92 and abort on eavesdroppers
  qkdnet run --scenario net.yaml --protocol b92 --abort-on-eavesdropper

  # Write the example scenario as TOML
  qkdnet example --format toml > net.toml

  # Serve metrics while running the scenario every 5s
  qkdnet serve --addr :9090 --interval 5s`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCommand(),
		newPathsCommand(),
		newExampleCommand(),
		newServeCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "qkdnet version %s\n", getVersion())
			fmt.Fprintln(out, pkgversion.Full())
			if buildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			}
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// native-workrave-link: a standalone daemon exposing the peer-to-peer
// active-role coordination link (§1-§9) over a JSON-RPC control socket,
// adapted from the teacher's p2p-daemon entrypoint (main.go +
// cmd/daemon.go) onto this spec's framed-TCP core instead of libp2p.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carrot-garden/native-workrave/cmd"
)

const version = "1.0.0"

func main() {
	var socketPath string
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "native-workrave-link",
		Short: "Peer-to-peer active-role coordination link daemon",
		Long: "native-workrave-link runs the gossip-style peer coordination core\n" +
			"described in this repository's specification: it keeps a set of\n" +
			"cooperating nodes in agreement about a single active node and\n" +
			"replicates opaque application state from it, over framed TCP.",
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/native-workrave-link.sock", "Unix socket path for the JSON-RPC control plane")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file overriding distribution.tcp defaults")
	_ = viper.BindPFlag("socket", rootCmd.PersistentFlags().Lookup("socket"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(startCmd(&socketPath, &configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func startCmd(socketPath, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the link daemon and block until terminated",
		RunE: func(c *cobra.Command, args []string) error {
			daemon, err := cmd.NewDaemon(&cmd.Config{
				SocketPath: *socketPath,
				ConfigPath: *configPath,
			})
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				log.Println("shutting down...")
				daemon.Stop()
				os.Exit(0)
			}()

			log.Printf("starting native-workrave-link %s", version)
			return daemon.Start()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version and exit",
		Run: func(c *cobra.Command, args []string) {
			fmt.Printf("native-workrave-link version %s\n", version)
		},
	}
}

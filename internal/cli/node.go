package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relab/shardledger/internal/config"
	"github.com/relab/shardledger/internal/profiling"
	"github.com/relab/shardledger/logging"
	"github.com/relab/shardledger/node"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a replica process.",
	Long: `The node command runs a single replica process of a shard.
The process registers with the hub and then takes part in every consensus run
the hub starts for its shard, until it is interrupted.
Processes are usually started by a node handler (ledger handler) instead.`,
	PreRunE: bindFlags,
	Run: func(_ *cobra.Command, _ []string) {
		runNode()
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)

	nodeCmd.Flags().String("host", "localhost", "the host to listen on")
	nodeCmd.Flags().Int("port", 0, "the port to listen on (0 picks a free port)")
	nodeCmd.Flags().String("owner", "", "the alias of the shard this process replicates")
	nodeCmd.Flags().Int("index", 1, "the index of this process within its shard")
	nodeCmd.Flags().String("hub-host", "localhost", "the host of the hub")
	nodeCmd.Flags().Int("hub-port", 5000, "the port of the hub")
	addTimingFlags(nodeCmd)
	addProfilingFlags(nodeCmd)
}

func runNode() {
	cfg, err := config.NewNode(viper.GetViper())
	checkf("config error: %v", err)

	stopProfilers, err := profiling.Start(config.NewProfiling(viper.GetViper()))
	checkf("failed to start profilers: %v", err)
	defer func() {
		checkf("failed to stop profilers: %v", stopProfilers())
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	proc := node.NewProcess(cfg, logging.New(fmt.Sprintf("%s-%d", cfg.Owner, cfg.Index)))
	checkf("failed to start process: %v", proc.Start(ctx))

	<-ctx.Done()
	if err := proc.Stop(); err != nil {
		log.Println(err)
	}
}

package cli

import (
	"context"
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

var handlerCmd = &cobra.Command{
	Use:   "handler",
	Short: "Run a node handler.",
	Long: `The handler command starts a node handler, which deploys and stops
replica processes in this program when the hub asks it to.`,
	PreRunE: bindFlags,
	Run: func(_ *cobra.Command, _ []string) {
		runHandler()
	},
}

func init() {
	rootCmd.AddCommand(handlerCmd)

	handlerCmd.Flags().String("handler-host", "localhost", "the host to listen on")
	handlerCmd.Flags().Int("handler-port", 4999, "the port to listen on")
	addTimingFlags(handlerCmd)
	addProfilingFlags(handlerCmd)
}

func runHandler() {
	cfg, err := config.NewHandler(viper.GetViper())
	checkf("config error: %v", err)

	stopProfilers, err := profiling.Start(config.NewProfiling(viper.GetViper()))
	checkf("failed to start profilers: %v", err)
	defer func() {
		checkf("failed to stop profilers: %v", stopProfilers())
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h := node.NewHandler(cfg, logging.New("handler"))
	checkf("failed to start handler: %v", h.Start(ctx))

	<-ctx.Done()
	if err := h.Close(); err != nil {
		log.Println(err)
	}
}

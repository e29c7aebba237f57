package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/relab/shardledger/hub"
	"github.com/relab/shardledger/internal/config"
	"github.com/relab/shardledger/logging"
	"github.com/relab/shardledger/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the interactive hub.",
	Long: `The hub command starts the orchestrator and reads commands from the terminal.
Type 'help' at the prompt to list the commands.`,
	PreRunE: bindFlags,
	Run: func(_ *cobra.Command, _ []string) {
		runHub()
	},
}

func init() {
	rootCmd.AddCommand(hubCmd)

	hubCmd.Flags().String("hub-host", "localhost", "the host to listen on")
	hubCmd.Flags().Int("hub-port", 5000, "the port to listen on")
	hubCmd.Flags().String("handler-host", "localhost", "the host of the node handler")
	hubCmd.Flags().Int("handler-port", 4999, "the port of the node handler")
	hubCmd.Flags().Duration("connect-timeout", transport.DefaultConfig().ConnectTimeout, "duration of the connection timeout")
}

func runHub() {
	cfg, err := config.NewHub(viper.GetViper())
	checkf("config error: %v", err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rl, err := readline.New("hub> ")
	checkf("failed to open terminal: %v", err)
	defer rl.Close()

	// log lines are written through readline so they do not garble the prompt
	h := hub.New(cfg, logging.NewWithDest(rl.Stderr(), "hub"))
	checkf("failed to start hub: %v", h.Start(ctx))
	defer func() {
		if err := h.Close(); err != nil {
			log.Println(err)
		}
	}()

	repl(ctx, h, rl)
}

func repl(ctx context.Context, h *hub.Hub, rl *readline.Instance) {
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Println(err)
			return
		}
		err = h.Exec(ctx, line, rl.Stdout())
		switch {
		case errors.Is(err, hub.ErrExit):
			return
		case err != nil:
			fmt.Fprintln(rl.Stderr(), err)
		}
	}
}

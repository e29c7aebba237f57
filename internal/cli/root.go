// Package cli implements the ledger command: a hub, node handlers, and replica processes.
package cli

import (
	"fmt"
	"log"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/relab/shardledger/consensus"
	"github.com/relab/shardledger/internal/config"
	"github.com/relab/shardledger/logging"
	"github.com/relab/shardledger/node"
	"github.com/relab/shardledger/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "ledger",
		Short: "A sharded ledger replicated by crash fault tolerant consensus.",
		Long: `ledger runs the components of a sharded ledger.

The hub is the interactive orchestrator: it registers replica processes,
asks node handlers to deploy and stop them, and submits transactions.
Each transaction is decided by a fresh consensus run among the replicas of its shard.

To try it locally, start 'ledger handler' and 'ledger hub' in two terminals,
then type 'deploy -s a 5001-5003' followed by 'transfer -from alice -to bob -a 10 -s a'
at the hub prompt.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ledger.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "sets the log level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")))
	rootCmd.PersistentFlags().StringSlice("log-pkgs", []string{}, "set the log level on a per-package basis.")
	cobra.CheckErr(viper.BindPFlag("log-pkgs", rootCmd.PersistentFlags().Lookup("log-pkgs")))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		checkf("failed to find home directory: %v", err)

		// Search config in home directory with name ".ledger" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".ledger")
	}

	viper.SetEnvPrefix("ledger")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	checkf("invalid log-level: %v", logging.SetLogLevel(viper.GetString("log-level")))

	for _, packageLevel := range viper.GetStringSlice("log-pkgs") {
		pkg, level, ok := strings.Cut(packageLevel, ":")
		if !ok {
			log.Fatalln("log-pkgs flag must be a comma-separated list of package:level strings")
		}
		checkf("invalid log-pkgs: %v", logging.SetPackageLogLevel(pkg, level))
	}
}

// bindFlags binds the flags of the command being run to viper.
// Commands share keys such as hub-port, so binding happens when a command runs, not in init.
func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func addProfilingFlags(cmd *cobra.Command) {
	cmd.Flags().String("cpu-profile", "", "Path to store a CPU profile")
	cmd.Flags().String("mem-profile", "", "Path to store a memory profile")
	cmd.Flags().String("trace", "", "Path to store a trace")
	cmd.Flags().String("fgprof-profile", "", "Path to store a fgprof profile")
}

func addTimingFlags(cmd *cobra.Command) {
	cc := consensus.DefaultConfig()
	cmd.Flags().Duration("election-timeout", cc.ElectionTimeout, "how long to wait for the leader before suspecting it")
	cmd.Flags().Int64("epoch-increment", cc.EpochIncrement, "the step between consecutive epoch timestamps")
	cmd.Flags().Duration("connect-timeout", transport.DefaultConfig().ConnectTimeout, "duration of the connection timeout")
	cmd.Flags().Duration("orphan-timeout", node.DefaultOrphanTimeout, "how long to keep messages of a run whose proposal has not arrived")
}

func checkf(format string, args ...any) {
	for _, arg := range args {
		if err, _ := arg.(error); err != nil {
			log.Fatalf(format, args...)
		}
	}
}

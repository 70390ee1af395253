package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ticketflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ticketflow",
	Short: "Ticket-driven workflow engine for agent-generated code changes",
	Long: `Ticketflow turns a work item into reviewed code changes through four
phases: plan, task breakdown, execution, and documentation sync. The
execution phase drives an external code-generation agent over a task
document with explicit file ownership, running fundamental tasks in order
and independent tasks in parallel, checkpointing after each one.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/ticketflow/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TICKETFLOW")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TICKETFLOW_EXECUTION_MAX_PARALLEL for execution.max_parallel
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

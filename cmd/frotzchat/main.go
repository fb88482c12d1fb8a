package main

import (
	"fmt"
	"os"

	"github.com/minicodemonkey/frotzchat/internal/cmd"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var dir string

	rootCmd := &cobra.Command{
		Use:     "frotzchat",
		Short:   "frotzchat - interactive fiction over chat",
		Long:    "frotzchat runs Z-machine stories through dfrotz and serves them to chat players, keeping every player's progress in a replayable save.",
		Version: Version,
		// Silence Cobra's default error/usage printing so we control output
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.SetVersionTemplate("frotzchat version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "C", ".", "Project directory holding .frotzchat/config.yaml")

	rootCmd.AddCommand(newInitCmd(&dir))
	rootCmd.AddCommand(newPlayCmd(&dir))
	rootCmd.AddCommand(newServeCmd(&dir))
	rootCmd.AddCommand(newListCmd(&dir))
	rootCmd.AddCommand(newResetCmd(&dir))
	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newInitCmd(dir *string) *cobra.Command {
	opts := &cmd.InitOptions{}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter config and the games and saves directories",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			opts.Dir = *dir
			opts.Out = c.OutOrStdout()
			return cmd.RunInit(*opts)
		},
	}

	initCmd.Flags().StringVar(&opts.Mode, "mode", "", "Session mode: resident or on-demand (default: resident)")
	initCmd.Flags().StringVar(&opts.Interpreter, "interpreter", "", "Path to dfrotz (default: dfrotz on PATH)")

	return initCmd
}

func newPlayCmd(dir *string) *cobra.Command {
	opts := &cmd.PlayOptions{}

	playCmd := &cobra.Command{
		Use:   "play <game>",
		Short: "Play a game in the terminal",
		Long:  "Plays a game by listing number or name. Progress is saved after every move and resumed on the next play.",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			opts.Dir = *dir
			opts.Game = args[0]
			return cmd.RunPlay(*opts)
		},
	}

	playCmd.Flags().StringVarP(&opts.Player, "player", "p", "", "Player name (default: current user)")

	return playCmd
}

func newServeCmd(dir *string) *cobra.Command {
	opts := &cmd.ServeOptions{}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long:  "Serves the games directory to chat players over WebSocket at /ws?player=<name>.",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			opts.Dir = *dir
			return cmd.RunServe(*opts)
		},
	}

	serveCmd.Flags().StringVar(&opts.Listen, "listen", "", "Listen address (default: from config, then 127.0.0.1:8420)")
	serveCmd.Flags().StringVar(&opts.LogFile, "log-file", "", "Path to log file (default: stderr)")

	return serveCmd
}

func newListCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the games and who has a save",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunList(cmd.ListOptions{Dir: *dir, Out: c.OutOrStdout()})
		},
	}
}

func newResetCmd(dir *string) *cobra.Command {
	opts := &cmd.ResetOptions{}

	resetCmd := &cobra.Command{
		Use:   "reset <game>",
		Short: "Delete a player's save",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			opts.Dir = *dir
			opts.Game = args[0]
			opts.Out = c.OutOrStdout()
			return cmd.RunReset(*opts)
		},
	}

	resetCmd.Flags().StringVarP(&opts.Player, "player", "p", "", "Player name (default: current user)")

	return resetCmd
}

func newConnectCmd() *cobra.Command {
	opts := &cmd.ConnectOptions{}

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Chat with a frotzchat server from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			opts.In = c.InOrStdin()
			opts.Out = c.OutOrStdout()
			return cmd.RunConnect(*opts)
		},
	}

	connectCmd.Flags().StringVar(&opts.URL, "url", "", "Server endpoint (default: ws://127.0.0.1:8420/ws)")
	connectCmd.Flags().StringVarP(&opts.Player, "player", "p", "", "Player name (default: current user)")

	return connectCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			fmt.Fprintf(c.OutOrStdout(), "frotzchat version %s\n", Version)
		},
	}
}

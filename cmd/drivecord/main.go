// Command drivecord runs the DriveCord storage engine: "serve" connects
// the bot to the gateway and supervises every drive, "mount" exposes a
// single drive as a local filesystem.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/7hebel/drivecord-server/discord"
	"github.com/7hebel/drivecord-server/drive"
	"github.com/7hebel/drivecord-server/fusefs"
)

var (
	flagToken string
	flagDebug bool
)

func main() {
	root := &cobra.Command{
		Use:           "drivecord",
		Short:         "Virtual drive backed by a chat server's message history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagToken, "token", "", "bot token (defaults to $DRIVECORD_TOKEN)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(serveCommand(), mountCommand())

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

// token resolves the bot token from the flag or the environment.
func token() (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}
	if env := os.Getenv("DRIVECORD_TOKEN"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no bot token: pass --token or set DRIVECORD_TOKEN")
}

func setupLogging() {
	if flagDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// newSession opens an authenticated platform over a discordgo session.
func newSession() (*discord.Platform, error) {
	tok, err := token()
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("Bot " + tok)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsAllWithoutPrivileged

	return discord.New(session)
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and supervise every drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			p, err := newSession()
			if err != nil {
				return err
			}

			reg := drive.NewRegistry(p)
			sup := drive.NewSupervisor(p, reg)
			discord.BindSupervisor(p.Session(), sup)

			if err := p.Session().Open(); err != nil {
				return fmt.Errorf("opening gateway: %w", err)
			}
			defer p.Session().Close()

			logrus.Info("gateway connected, serving drives")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			logrus.Info("shutting down")
			return nil
		},
	}
}

func mountCommand() *cobra.Command {
	var (
		flagServer string
		flagUser   string
	)

	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount one drive as a local filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			serverID, err := strconv.ParseUint(flagServer, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --server id: %w", err)
			}
			uid, err := strconv.ParseUint(flagUser, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --user id: %w", err)
			}

			p, err := newSession()
			if err != nil {
				return err
			}

			reg := drive.NewRegistry(p)
			d, err := reg.Get(serverID)
			if err != nil {
				return err
			}

			server, err := fusefs.Mount(args[0], d, uid, flagDebug)
			if err != nil {
				return fmt.Errorf("mounting: %w", err)
			}
			logrus.Infof("drive %d mounted at %s", serverID, args[0])

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				logrus.Info("unmounting")
				server.Unmount()
			}()

			server.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&flagServer, "server", "", "chat server id of the drive")
	cmd.Flags().StringVar(&flagUser, "user", "", "drive user id file operations act as")
	cmd.MarkFlagRequired("server")
	cmd.MarkFlagRequired("user")
	return cmd
}

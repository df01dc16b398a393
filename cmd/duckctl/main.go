package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/bus"
	"github.com/spotiduck/spotiduck/internal/control"
	"github.com/spotiduck/spotiduck/internal/spotify"
)

const dialTimeout = 10 * time.Second

func main() {
	var (
		url = envOr("SPOTIDUCK_URL", "ws://localhost:8080/ws")

		client  *bus.Client
		surface *control.Surface
	)

	root := &cobra.Command{
		Use:           "duckctl",
		Short:         "Control the spotiduck daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
			defer cancel()

			var err error
			client, err = bus.Dial(ctx, url, logger)
			if err != nil {
				return fmt.Errorf("cannot reach daemon at %s: %w", url, err)
			}
			client.Start()
			surface = control.New(client, spotify.NewClient(""))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if client != nil {
				client.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&url, "url", url, "daemon websocket URL (env SPOTIDUCK_URL)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the Spotify account is linked and usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := surface.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Ask the daemon to mint a fresh access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := surface.Login(); err != nil {
				return err
			}
			fmt.Println("refresh requested")
			return nil
		},
	}

	volumeCmd := &cobra.Command{
		Use:   "volume <0-100>",
		Short: "Set the target volume used while local audio plays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("volume must be an integer, got %q", args[0])
			}
			if err := surface.SetVolume(v); err != nil {
				return err
			}
			fmt.Printf("target volume set to %d\n", v)
			return nil
		},
	}

	root.AddCommand(statusCmd, loginCmd, volumeCmd)

	for _, transport := range []string{"play", "pause", "next", "previous"} {
		transport := transport
		root.AddCommand(&cobra.Command{
			Use:   transport,
			Short: fmt.Sprintf("Send the %s command to the active player", transport),
			RunE: func(cmd *cobra.Command, args []string) error {
				return surface.Command(transport)
			},
		})
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

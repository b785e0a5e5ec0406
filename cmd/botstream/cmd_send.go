package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/botstream/internal/outbound"
	"github.com/user/botstream/internal/session"
	"github.com/user/botstream/internal/types"
)

var sendSession string

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendSession, "session", "", "session id to correlate with (default: a new one)")
}

var sendCmd = &cobra.Command{
	Use:   "send <text...>",
	Short: "Send one user message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		identity := session.NewIdentity()
		if sendSession != "" {
			identity = session.FixedIdentity(types.SessionID(sendSession))
		}
		sess := session.New(identity)

		d := outbound.New(cfg.Outbound.URL, cfg.SendTimeout())
		res, err := d.Send(context.Background(), sess.ID(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Printf("Sent %s (session %s, status %d)\n", res.ID, sess.ID(), res.StatusCode)
		return nil
	},
}

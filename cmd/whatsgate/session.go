package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sadirul/whatsgate/internal/client"
)

func newConnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "connect",
		Short:         "Pair this account with WhatsApp (prints codes to scan)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runConnect,
	}
	cmd.Flags().Duration("timeout", 2*time.Minute, "How long to wait for the connection")
	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	c, _, err := apiClient(cmd)
	if err != nil {
		return err
	}
	if c.Token() == "" {
		return fmt.Errorf("not logged in; run 'whatsgate login' first")
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")

	status, err := c.Connect(cmd.Context(), client.ConnectOptions{
		Timeout: timeout,
		RenderCode: func(code string) {
			fmt.Println()
			fmt.Println("Pairing code:")
			fmt.Println(code)
			fmt.Println()
		},
		Notify: func(format string, args ...any) {
			fmt.Printf(format+"\n", args...)
		},
	})
	if err != nil {
		return err
	}

	printStatus(status)
	return nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the WhatsApp connection state",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if c.Token() == "" {
				return fmt.Errorf("not logged in; run 'whatsgate login' first")
			}

			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(status)
			return nil
		},
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Disconnect WhatsApp and discard the stored pairing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if c.Token() == "" {
				return fmt.Errorf("not logged in; run 'whatsgate login' first")
			}

			if err := c.LogoutSession(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("WhatsApp disconnected.")
			return nil
		},
	}
}

func printStatus(status client.SessionStatus) {
	if !status.Connected {
		fmt.Printf("Not connected (state: %s)\n", status.State)
		return
	}
	fmt.Println("Connected.")
	if status.ClientInfo != nil {
		fmt.Printf("  Account: %s\n", status.ClientInfo.Pushname)
		fmt.Printf("  Phone:   %s\n", status.ClientInfo.Phone)
	}
}

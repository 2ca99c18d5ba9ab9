package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/sadirul/whatsgate/internal/client"
)

func newRegisterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "register",
		Short:         "Create an account on the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRegister,
	}
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Password (prompted when omitted)")
	return cmd
}

func runRegister(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	if name == "" || email == "" {
		return fmt.Errorf("--name and --email are required")
	}

	password, err := passwordFromFlagOrPrompt(cmd)
	if err != nil {
		return err
	}

	c, _, err := apiClient(cmd)
	if err != nil {
		return err
	}

	account, err := c.Register(cmd.Context(), name, email, password)
	if err != nil {
		return err
	}

	fmt.Printf("Registered %s. API key: %s\n", account.Email, account.APIKey)
	fmt.Println("Run 'whatsgate login' to start a session.")
	return nil
}

func newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "login",
		Short:         "Log in and store the session token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLogin,
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Password (prompted when omitted)")
	return cmd
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		return fmt.Errorf("--email is required")
	}

	password, err := passwordFromFlagOrPrompt(cmd)
	if err != nil {
		return err
	}

	c, _, err := apiClient(cmd)
	if err != nil {
		return err
	}

	account, err := c.Login(cmd.Context(), email, password)
	if err != nil {
		return err
	}

	if err := client.SaveSettings(client.Settings{
		BaseURL: c.BaseURL(),
		Email:   account.Email,
		Token:   c.Token(),
		APIKey:  account.APIKey,
	}); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s.\n", account.Email)
	return nil
}

func passwordFromFlagOrPrompt(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := terminal.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	password = strings.TrimSpace(string(raw))
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return password, nil
}

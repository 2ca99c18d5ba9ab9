package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sadirul/whatsgate/internal/client"
	"github.com/sadirul/whatsgate/internal/config"
	"github.com/sadirul/whatsgate/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "whatsgate",
		Short:         "WhatsGate CLI - drive the WhatsApp gateway daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.PersistentFlags().String("url", "", "Daemon base URL (default from saved settings or http://"+config.DefaultListenAddr+")")

	rootCmd.AddCommand(
		newRegisterCommand(),
		newLoginCommand(),
		newConnectCommand(),
		newStatusCommand(),
		newSendCommand(),
		newLogoutCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// apiClient builds an HTTP client from the saved settings plus --url
// override. The returned settings carry whatever credentials are stored.
func apiClient(cmd *cobra.Command) (*client.HTTPClient, client.Settings, error) {
	settings, err := client.LoadSettings()
	if err != nil {
		return nil, client.Settings{}, err
	}

	baseURL, _ := cmd.Flags().GetString("url")
	if baseURL == "" {
		baseURL = settings.BaseURL
	}
	if baseURL == "" {
		baseURL = "http://" + config.ListenAddr()
	}

	c := client.NewHTTPClient(baseURL, settings.Token, nil)
	c.SetAPIKey(settings.APIKey)
	return c, settings, nil
}

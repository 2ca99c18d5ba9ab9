package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "send",
		Short:         "Send a message through the connected WhatsApp account",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSend,
	}
	cmd.Flags().String("to", "", "Destination phone number (10-15 digits)")
	cmd.Flags().String("message", "", "Text message body")
	cmd.Flags().String("media-url", "", "URL of media to send instead of text")
	cmd.Flags().String("caption", "", "Caption for media sends")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	message, _ := cmd.Flags().GetString("message")
	mediaURL, _ := cmd.Flags().GetString("media-url")
	caption, _ := cmd.Flags().GetString("caption")

	if to == "" {
		return fmt.Errorf("--to is required")
	}
	if message == "" && mediaURL == "" {
		return fmt.Errorf("--message or --media-url is required")
	}
	if message != "" && mediaURL != "" {
		return fmt.Errorf("--message and --media-url are mutually exclusive")
	}

	c, settings, err := apiClient(cmd)
	if err != nil {
		return err
	}
	if settings.APIKey == "" {
		return fmt.Errorf("no API key stored; run 'whatsgate login' first")
	}

	if mediaURL != "" {
		result, err := c.SendMediaURL(cmd.Context(), to, mediaURL, caption)
		if err != nil {
			return err
		}
		fmt.Printf("Media sent (id: %s)\n", result.MessageID)
		return nil
	}

	result, err := c.SendText(cmd.Context(), to, message)
	if err != nil {
		return err
	}
	fmt.Printf("Message sent (id: %s)\n", result.MessageID)
	return nil
}

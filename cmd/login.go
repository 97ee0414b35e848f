package cmd

import (
	"fmt"
	"time"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/spf13/cobra"
)

func newLoginCmd(app *app) *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Handshake with a device and obtain a login token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := domain.DeviceID(deviceID)
			client, err := app.openClient(cmd.Context(), id)
			if err != nil {
				return err
			}

			label := fmt.Sprintf("Performing KLAP handshake with %s...", id)
			if err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), label, client.Login); err != nil {
				return fmt.Errorf("login to %s: %w", id, err)
			}

			session := client.Sessions().Session()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s (session %s, expires %s)\n",
				id, session.ID, session.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

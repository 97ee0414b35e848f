package cmd

import (
	"fmt"

	"github.com/bnema/klapctl/internal/application"
	"github.com/bnema/klapctl/internal/domain"
	"github.com/spf13/cobra"
)

func newDeviceCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage registered devices",
	}

	cmd.AddCommand(
		newDeviceAddCmd(app),
		newDeviceListCmd(app),
	)

	return cmd
}

func newDeviceAddCmd(app *app) *cobra.Command {
	var name string
	var address string
	var username string

	cmd := &cobra.Command{
		Use:   "add <device-id>",
		Short: "Register a device or update its address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			device, err := app.service.AddDevice(cmd.Context(), application.AddDeviceCommand{
				ID:       domain.DeviceID(args[0]),
				Name:     name,
				Address:  address,
				Username: username,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered device %s at %s\n", device.ID, device.Address)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (default: device id)")
	cmd.Flags().StringVar(&address, "address", "", "Device host or host:port")
	cmd.Flags().StringVar(&username, "username", "", "Cloud account username used for KLAP auth")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newDeviceListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := app.service.ListDevices(cmd.Context())
			if err != nil {
				return err
			}

			for _, device := range devices {
				credentials := "no-password"
				if device.PasswordRef != "" {
					credentials = "password"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n",
					device.ID, device.Name, device.Address, device.Username, credentials)
			}

			return nil
		},
	}
}

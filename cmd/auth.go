package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/klapctl/internal/application"
	"github.com/bnema/klapctl/internal/domain"
	"github.com/spf13/cobra"
)

func newAuthCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage device credentials",
	}

	cmd.AddCommand(newAuthSetCmd(app), newAuthRemoveCmd(app))

	return cmd
}

func newAuthSetCmd(app *app) *cobra.Command {
	var deviceID string
	var secretKey string
	var password string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the device password in the secret store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("a password is required (--password or --password-stdin)")
			}

			id := domain.DeviceID(deviceID)
			if secretKey == "" {
				secretKey = application.PasswordKey(id)
			}

			return app.service.SetPassword(cmd.Context(), id, secretKey, password)
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "Secret-store key (default: klapctl/devices/<id>/password)")
	cmd.Flags().StringVar(&password, "password", "", "Device password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func newAuthRemoveCmd(app *app) *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the stored device password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.service.RemovePassword(cmd.Context(), domain.DeviceID(deviceID))
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

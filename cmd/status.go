package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	statusadapter "github.com/bnema/klapctl/internal/adapters/render/status"
	"github.com/bnema/klapctl/internal/application"
	"github.com/bnema/klapctl/internal/domain"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *app) *cobra.Command {
	var deviceID string
	var asJSON bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Log in to devices and display their session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := loadDevices(cmd.Context(), app, deviceID)
			if err != nil {
				return err
			}

			statuses := make([]domain.SessionStatus, 0, len(devices))
			var failures []error
			connect := func(ctx context.Context) error {
				for _, device := range devices {
					status, err := deviceStatus(ctx, app, device, offline)
					statuses = append(statuses, status)
					if err != nil {
						failures = append(failures, fmt.Errorf("%s: %w", device.ID, err))
					}
				}
				return nil
			}

			if asJSON || offline {
				_ = connect(cmd.Context())
			} else if err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), "Connecting to devices...", connect); err != nil {
				return err
			}

			for _, failure := range failures {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), failure)
			}

			return writeStatusesOutput(cmd, app, statuses, asJSON)
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID (default: all devices)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not contact devices")

	return cmd
}

func loadDevices(ctx context.Context, app *app, deviceID string) ([]domain.Device, error) {
	if deviceID == "" {
		return app.service.ListDevices(ctx)
	}

	device, err := app.service.GetDevice(ctx, domain.DeviceID(deviceID))
	if err != nil {
		return nil, err
	}
	return []domain.Device{device}, nil
}

// deviceStatus logs in to one device and reports the resulting session. A
// device without a stored password is reported idle without an error.
func deviceStatus(ctx context.Context, app *app, device domain.Device, offline bool) (domain.SessionStatus, error) {
	idle := domain.SessionStatus{
		DeviceID: device.ID,
		Name:     device.Name,
		Address:  device.Address,
		State:    domain.SessionStateUninitialized,
	}
	if offline {
		return idle, nil
	}

	client, err := app.openClient(ctx, device.ID)
	if err != nil {
		if errors.Is(err, application.ErrNoCredentials) {
			return idle, nil
		}
		return idle, err
	}

	err = client.Login(ctx)
	return client.Sessions().Status(), err
}

func writeStatusesOutput(cmd *cobra.Command, app *app, statuses []domain.SessionStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	rendered, err := app.statusRenderer(statuses, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/spf13/cobra"
)

func newRequestCmd(app *app) *cobra.Command {
	var deviceID string
	var rawParams string
	var plain bool

	cmd := &cobra.Command{
		Use:   "request <method>",
		Short: "Send a request to a device and print the JSON response",
		Long:  "request sends <method> over the encrypted secure passthrough channel, logging in first when needed. With --plain the envelope is sent unencrypted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}

			client, err := app.openClient(cmd.Context(), domain.DeviceID(deviceID))
			if err != nil {
				return err
			}

			var body domain.ResponseBody
			if plain {
				body, err = client.Dispatcher().SendPlain(cmd.Context(), args[0], params, false)
			} else {
				body, err = client.Call(cmd.Context(), args[0], params)
			}

			var deviceErr *domain.DeviceError
			if err != nil && !errors.As(err, &deviceErr) {
				return err
			}

			if writeErr := writeJSONBody(cmd, body); writeErr != nil {
				return writeErr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID")
	cmd.Flags().StringVar(&rawParams, "params", "", "Request params as a JSON object")
	cmd.Flags().BoolVar(&plain, "plain", false, "Send the request without encryption")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func parseParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("parse --params: %w", err)
	}
	return params, nil
}

func writeJSONBody(cmd *cobra.Command, body domain.ResponseBody) error {
	if len(body) == 0 {
		return nil
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	out.WriteByte('\n')

	_, err := cmd.OutOrStdout().Write(out.Bytes())
	return err
}

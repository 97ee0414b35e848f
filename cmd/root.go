package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "klapctl",
		Short:         "klapctl: talk to KLAP smart plugs on the local network",
		Long:          "klapctl registers LAN devices, stores their credentials, performs the KLAP handshake and login, and sends encrypted requests over the secure passthrough channel.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newDeviceCmd(app),
		newAuthCmd(app),
		newLoginCmd(app),
		newRequestCmd(app),
		newStatusCmd(app),
	)

	return rootCmd
}

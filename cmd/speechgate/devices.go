package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petems/speechgate/internal/app"
	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/logging"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones and capturable output devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logging.NewConsole(cmd.ErrOrStderr(), cfg.LogLevel)

		sources := app.OpenSources(log)
		defer sources.Close()
		dir := sources.Directory()

		inputs, err := dir.InputDevices()
		if err != nil {
			return fmt.Errorf("failed to list microphones: %w", err)
		}
		outputs, err := dir.OutputDevices()
		if err != nil {
			return fmt.Errorf("failed to list output devices: %w", err)
		}
		return printDevices(cmd.OutOrStdout(), inputs, outputs)
	},
}

func printDevices(w io.Writer, inputs, outputs []audio.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tNAME\tDEFAULT")
	for _, group := range []struct {
		kind    audio.Kind
		devices []audio.Device
	}{
		{audio.Microphone, inputs},
		{audio.SystemAudio, outputs},
	} {
		for _, d := range group.devices {
			def := ""
			if d.Default {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", group.kind, d.ID, d.Name, def)
		}
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muralgen/muralgen"
)

func newComposeCmd(flags *rootFlags) *cobra.Command {
	var (
		deviceName string
		width      int
		height     int
		styles     []string
		palette    string
		mood       string
	)

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose an image prompt tailored to a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			prompt, err := client.ComposePromptForDevice(cmd.Context(),
				muralgen.Device{Name: deviceName, Width: width, Height: height},
				muralgen.StylePreferences{Styles: styles, Palette: palette, Mood: mood})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(prompt))
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceName, "device", "desktop", "device name")
	cmd.Flags().IntVar(&width, "width", 1920, "device width in pixels")
	cmd.Flags().IntVar(&height, "height", 1080, "device height in pixels")
	cmd.Flags().StringSliceVar(&styles, "style", nil, "preferred styles (repeatable)")
	cmd.Flags().StringVar(&palette, "palette", "", "color palette")
	cmd.Flags().StringVar(&mood, "mood", "", "mood")
	return cmd
}

func newVariantCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "variant <base-prompt>",
		Short: "Compose a variation of an existing prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			prompt, err := client.ComposeVariantPrompt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(prompt))
			return nil
		},
	}
}

func newRestyleCmd(flags *rootFlags) *cobra.Command {
	var style string

	cmd := &cobra.Command{
		Use:   "restyle <base-prompt>",
		Short: "Compose a restyled version of an existing prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			prompt, err := client.ComposeRestylePrompt(cmd.Context(), args[0], style)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(prompt))
			return nil
		},
	}

	cmd.Flags().StringVar(&style, "style", "", "style directive, e.g. \"watercolor\" (required)")
	_ = cmd.MarkFlagRequired("style")
	return cmd
}

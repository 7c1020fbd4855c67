package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/muralgen/muralgen"
)

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	var (
		width   int
		height  int
		model   string
		seed    int64
		out     string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a wallpaper image from a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			// Ctrl-C cancels the in-flight generation cleanly.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			opts := muralgen.ImageOptions{Model: model, Seed: seed}
			if verbose {
				opts.OnStatus = func(s muralgen.GenStatus) {
					fmt.Fprintf(cmd.ErrOrStderr(), "status: %s\n", s)
				}
			}

			data, err := client.GenerateImage(ctx, args[0], width, height, opts)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write image: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(data), out)
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 1920, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 1080, "image height in pixels")
	cmd.Flags().StringVar(&model, "model", "", "model to generate with")
	cmd.Flags().Int64Var(&seed, "seed", 0, "generation seed (0 = random)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print dispatch status transitions")
	return cmd
}

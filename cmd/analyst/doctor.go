package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/analyst/internal/config"
	"github.com/mattjoyce/analyst/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var (
		configPath string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and host readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				s, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			case "human":
				fmt.Fprint(out, doctor.FormatHuman(result))
			default:
				return fmt.Errorf("unknown format %q (want human or json)", format)
			}

			if !result.Valid {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file or directory")
	cmd.Flags().StringVar(&format, "format", "human", "Output format: human or json")
	return cmd
}

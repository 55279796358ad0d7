package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hpcops/allocsync/pkg/config"
	"github.com/hpcops/allocsync/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var show string

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate the configuration file",
		Long: `Validate a configuration file without connecting to any system.

This command checks:
  - YAML, TOML or CUE syntax and unknown keys
  - Required settings and value ranges
  - Cron specs of the schedule section
  - Compilation of the site policies
  - Loading of the filter script

With the action guard enabled, the loaded policies are listed with their
severity and state.`,
		Example: `  # Validate the configured file
  allocsync validate

  # Validate a candidate before installing it
  allocsync validate ./config.cue

  # Print the Rego source of one policy
  allocsync validate --policy protected-groups`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			var guard *policy.Engine
			if cfg.Policy.Enabled {
				if guard, err = newPolicyEngine(cmd.Context(), cfg, zerolog.Nop()); err != nil {
					return err
				}
			}

			if cfg.Filter.Script != "" {
				if _, err := config.LoadScriptFilter(cfg.Filter.Script, cfg.Filter.Vars); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if show != "" {
				if guard == nil {
					return errors.New("the action guard is disabled, set policy.enabled")
				}
				p, err := guard.GetPolicy(show)
				if err != nil {
					return err
				}
				_, err = io.WriteString(out, p.Rego)
				return err
			}

			if _, err := fmt.Fprintf(out, "%s: configuration is valid\n", path); err != nil {
				return err
			}
			if guard != nil {
				return printPolicies(out, guard.ListPolicies())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&show, "policy", "", "print the Rego source of the named policy")

	return cmd
}

func printPolicies(w io.Writer, policies []policy.Policy) error {
	for _, p := range policies {
		source := p.Source
		if p.Builtin {
			source = "builtin"
		}
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.Severity, state, source, strconv.Quote(p.Description))
		if err != nil {
			return err
		}
	}
	return nil
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/GoCodeAlone/ruleflow/internal/scripted"
	"github.com/spf13/cobra"
)

var errValidationFailed = errors.New("validation failed")

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check setup descriptors without running them",
		Long: `Validate loads every setup of the given descriptor files, builds its rules
and checks orderings, schedules and policies the way a module does when it
is configured.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, setups, err := loadCatalog(args)
			if err != nil {
				return err
			}
			return validateSetups(cmd, setups)
		},
	}
}

// loadCatalog reads descriptor files into a catalog whose unknown rule
// types are scripted.
func loadCatalog(paths []string, opts ...scripted.Option) (*ruleflow.Catalog, []*ruleflow.DescriptorSetup, error) {
	catalog := ruleflow.NewCatalog()
	scripted.Install(catalog, opts...)
	var setups []*ruleflow.DescriptorSetup
	for _, path := range paths {
		descriptors, err := ruleflow.LoadDescriptorFile(path)
		if err != nil {
			return nil, nil, err
		}
		setups = append(setups, catalog.AddDescriptors(descriptors...)...)
	}
	if len(setups) == 0 {
		return nil, nil, fmt.Errorf("no setups declared in %v", paths)
	}
	return catalog, setups, nil
}

func validateSetups(cmd *cobra.Command, setups []*ruleflow.DescriptorSetup) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, s := range setups {
		bp, err := s.Build(nil)
		if err == nil {
			err = bp.Validate()
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", s.Name(), err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d rules)\n", s.Name(), len(bp.Rules))
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d setups", errValidationFailed, failed, len(setups))
	}
	fmt.Fprintf(out, "%d setups valid\n", len(setups))
	return nil
}

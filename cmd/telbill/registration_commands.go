package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"telbill/internal/identity"
	"telbill/internal/process"
)

func newRegistrationCommand(ctx *commandContext) *cobra.Command {
	regCmd := &cobra.Command{
		Use:     "registration",
		Aliases: []string{"reg"},
		Short:   "Manage the registration catalog",
	}

	regCmd.AddCommand(newRegistrationAddCommand(ctx))
	regCmd.AddCommand(newRegistrationListCommand(ctx))
	regCmd.AddCommand(newRegistrationDeactivateCommand(ctx))
	regCmd.AddCommand(newRegistrationRekeyCommand(ctx))

	return regCmd
}

type registrationFields struct {
	filterName string
	operator   string
	service    string
	satData    string
	filter     string
	unit       string
	taxID      string
}

func (f *registrationFields) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.filterName, "name", "", "Filter name identifying the account")
	cmd.Flags().StringVar(&f.operator, "operator", "", "Operator code (EMBRATEL, OI, VIVO, CLARO, TIM)")
	cmd.Flags().StringVar(&f.service, "service", "TELEFONIA", "Service category")
	cmd.Flags().StringVar(&f.satData, "sat-data", "", "SAT reference data")
	cmd.Flags().StringVar(&f.filter, "filter", "", "Portal filter expression")
	cmd.Flags().StringVar(&f.unit, "unit", "", "Business unit")
	cmd.Flags().StringVar(&f.taxID, "tax-id", "", "Tax id of the contracting entity")
}

func (f *registrationFields) build() (*process.Registration, error) {
	if strings.TrimSpace(f.filterName) == "" || strings.TrimSpace(f.operator) == "" {
		return nil, errors.New("--name and --operator are required")
	}
	if strings.TrimSpace(f.taxID) == "" {
		return nil, errors.New("--tax-id is required")
	}
	return &process.Registration{
		Hash:        identity.Hash(f.operator, f.service, f.filterName, f.unit, f.taxID),
		FilterName:  strings.TrimSpace(f.filterName),
		Operator:    strings.ToUpper(strings.TrimSpace(f.operator)),
		Service:     strings.TrimSpace(f.service),
		SATData:     strings.TrimSpace(f.satData),
		Filter:      strings.TrimSpace(f.filter),
		Unit:        strings.TrimSpace(f.unit),
		TaxID:       strings.TrimSpace(f.taxID),
		TaxIDMasked: identity.MaskTaxID(strings.TrimSpace(f.taxID)),
		Active:      true,
	}, nil
}

func newRegistrationAddCommand(ctx *commandContext) *cobra.Command {
	var fields registrationFields

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or refresh a registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := fields.build()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *process.Store) error {
				if err := store.UpsertRegistration(cmd.Context(), reg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registration %s stored (%s %s)\n", reg.Hash, reg.Operator, reg.FilterName)
				return nil
			})
		},
	}
	fields.bind(cmd)
	return cmd
}

func newRegistrationListCommand(ctx *commandContext) *cobra.Command {
	var operator string
	var includeInactive bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *process.Store) error {
				regs, err := store.ListRegistrations(cmd.Context(), operator, includeInactive)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, regs)
				}
				if len(regs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No registrations found")
					return nil
				}
				rows := make([][]string, 0, len(regs))
				for _, reg := range regs {
					rows = append(rows, []string{
						reg.Hash,
						reg.Operator,
						reg.FilterName,
						reg.Unit,
						reg.TaxIDMasked,
						yesNo(reg.Active),
					})
				}
				out := renderTable([]string{"Hash", "Operator", "Name", "Unit", "Tax ID", "Active"}, rows)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "Filter by operator code")
	cmd.Flags().BoolVar(&includeInactive, "all", false, "Include deactivated registrations")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRegistrationDeactivateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <hash>",
		Short: "Deactivate a registration (rows are never deleted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *process.Store) error {
				if err := store.DeactivateRegistration(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registration %s deactivated\n", args[0])
				return nil
			})
		},
	}
}

func newRegistrationRekeyCommand(ctx *commandContext) *cobra.Command {
	var fields registrationFields
	var period string

	cmd := &cobra.Command{
		Use:   "rekey <old-hash>",
		Short: "Migrate a registration to a new identity for one period",
		Long: "Recomputes the identity hash from the updated fields and migrates the\n" +
			"registration plus its processes for the given period. Historical periods\n" +
			"keep the old hash.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldHash := args[0]
			return ctx.withStore(func(store *process.Store) error {
				current, err := store.GetRegistration(cmd.Context(), oldHash)
				if err != nil {
					return err
				}
				applyRegistrationDefaults(cmd, &fields, current)

				updated, err := fields.build()
				if err != nil {
					return err
				}
				if updated.Hash == oldHash {
					fmt.Fprintln(cmd.OutOrStdout(), "Identity unchanged, nothing to migrate")
					return nil
				}
				if err := store.Rekey(cmd.Context(), oldHash, updated.Hash, period); err != nil {
					return err
				}
				if err := store.UpsertRegistration(cmd.Context(), updated); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registration rekeyed %s -> %s for %s\n", oldHash, updated.Hash, period)
				return nil
			})
		},
	}
	fields.bind(cmd)
	cmd.Flags().StringVar(&period, "period", "", "Billing period to migrate (YYYY-MM)")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

// applyRegistrationDefaults fills flags the caller left untouched from the
// stored row so a rekey only has to name the fields that changed.
func applyRegistrationDefaults(cmd *cobra.Command, fields *registrationFields, current *process.Registration) {
	defaults := map[string]struct {
		target *string
		value  string
	}{
		"name":     {&fields.filterName, current.FilterName},
		"operator": {&fields.operator, current.Operator},
		"service":  {&fields.service, current.Service},
		"sat-data": {&fields.satData, current.SATData},
		"filter":   {&fields.filter, current.Filter},
		"unit":     {&fields.unit, current.Unit},
		"tax-id":   {&fields.taxID, current.TaxID},
	}
	for flag, def := range defaults {
		if !cmd.Flags().Changed(flag) {
			*def.target = def.value
		}
	}
}

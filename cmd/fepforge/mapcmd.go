package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/domain/mapping"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/normalize"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
)

// newMapCmd builds the offline mapping command: normalize two ligand files
// and print their common core without touching any infrastructure.  Useful
// for vetting a perturbation before submitting a batch.
func newMapCmd() *cobra.Command {
	var (
		elementMode    string
		allowRingBreak bool
		maxFraction    float64
		ph             float64
	)

	cmd := &cobra.Command{
		Use:   "map <ligand_a.pdb> <ligand_b.pdb>",
		Short: "Compute the atom mapping between two ligand structures",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewNopLogger()
			norm := normalize.New(normalize.Options{PH: ph}, log)

			rawA, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rawB, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			nameA := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			nameB := strings.TrimSuffix(filepath.Base(args[1]), filepath.Ext(args[1]))

			molA, err := norm.NormalizeLigand(cmd.Context(), nameA, rawA)
			if err != nil {
				return err
			}
			molB, err := norm.NormalizeLigand(cmd.Context(), nameB, rawB)
			if err != nil {
				return err
			}

			builder := mapping.NewBuilder(mapOptions(config.ChemConfig{
				ElementMode:             elementMode,
				AllowRingBreak:          allowRingBreak,
				MaxPerturbationFraction: maxFraction,
			}), log)
			amap, err := builder.Build(molA, molB)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d atoms) ~ %s (%d atoms)\n",
				nameA, molA.NumAtoms(), nameB, molB.NumAtoms())
			fmt.Fprintf(out, "core size:             %d\n", amap.Len())
			fmt.Fprintf(out, "perturbation fraction: %.3f\n", amap.PerturbationFraction(molA, molB))
			fmt.Fprintf(out, "disappearing atoms:    %v\n", amap.DisappearingAtoms(molA))
			fmt.Fprintf(out, "appearing atoms:       %v\n", amap.AppearingAtoms(molB))
			for _, p := range amap.Pairs() {
				fmt.Fprintf(out, "  %3d %-2s → %3d %-2s\n",
					p.A, molA.Atom(p.A).Element, p.B, molB.Atom(p.B).Element)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&elementMode, "element-mode", "category",
		"atom matching mode: strict|category|permissive")
	cmd.Flags().BoolVar(&allowRingBreak, "allow-ring-break", false,
		"accept mappings whose core boundary cuts a ring")
	cmd.Flags().Float64Var(&maxFraction, "max-fraction", 0.5,
		"maximum appearing+disappearing fraction of the atom union")
	cmd.Flags().Float64Var(&ph, "ph", 7.0, "protonation pH")
	return cmd
}

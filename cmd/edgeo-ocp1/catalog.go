package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/catalog"
)

var (
	catalogFilter string
	catalogONo    string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the known objects",
	Long: `Catalog lists the objects that can be addressed by name: the built-in
DS100 catalog plus the entries of --catalog, which override built-in
entries of the same name.

Type-2 object numbers are broken down into record, channel, box and object.

Examples:
  # Everything about matrix input 1
  edgeo-ocp1 catalog --filter matrix-input -o csv | grep -- '-1,'

  # What is 0x10010502?
  edgeo-ocp1 catalog --ono 0x10010502`,

	RunE: runCatalog,
}

func init() {
	catalogCmd.Flags().StringVar(&catalogFilter, "filter", "", "Only names containing this text")
	catalogCmd.Flags().StringVar(&catalogONo, "ono", "", "Only entries for this object number")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	entries := cat.Filter(catalogFilter)
	if catalogONo != "" {
		ono, err := strconv.ParseUint(catalogONo, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid object number %q", catalogONo)
		}
		var matched []catalog.Entry
		for _, e := range entries {
			if e.Definition.MatchesONo(uint32(ono)) {
				matched = append(matched, e)
			}
		}
		entries = matched
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		d := e.Definition
		_, record, channel, box, object := catalog.SplitONoTy2(d.TargetONo)
		rows = append(rows, []string{
			e.Name,
			fmt.Sprintf("0x%08x", d.TargetONo),
			fmt.Sprintf("%d/%d/0x%02x/0x%02x", record, channel, box, object),
			d.DataType.String(),
			fmt.Sprintf("%d.%d", d.PropDefLevel, d.PropIndex),
		})
	}

	f := NewFormatter(outputFmt)
	if err := f.PrintTable([]string{"NAME", "ONO", "RECORD/CHANNEL/BOX/OBJECT", "TYPE", "PROPERTY"}, rows); err != nil {
		return err
	}
	if f.format == FormatTable {
		fmt.Printf("\n%d of %d object(s)\n", len(rows), cat.Len())
	}
	return nil
}

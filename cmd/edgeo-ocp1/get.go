package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	objectName  string
	objectType  string
	objectLevel uint16
	objectIndex uint16
)

// objectFlags adds the flags that address one object property
func objectFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&objectName, "object", "O", "", "Catalog name or object number (e.g. matrix-input-gain-1 or 0x10010502)")
	cmd.Flags().StringVar(&objectType, "type", "", "Data type for raw object numbers (float32, uint8, string, position, ...)")
	cmd.Flags().Uint16Var(&objectLevel, "level", 4, "Property definition level for raw object numbers")
	cmd.Flags().Uint16Var(&objectIndex, "index", 1, "Property index for raw object numbers")
	cmd.MarkFlagRequired("object")
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read the value of an object",
	Long: `Get sends one GetValue command and prints the value the device returns.

Examples:
  # Read by catalog name
  edgeo-ocp1 get -H 10.0.0.20 -O matrix-input-gain-1

  # Read a raw object number
  edgeo-ocp1 get -H 10.0.0.20 -O 0x10010502 --type float32 --level 4 --index 1

  # Print only the value
  edgeo-ocp1 get -H 10.0.0.20 -O device-name -o raw`,

	RunE: runGet,
}

func init() {
	objectFlags(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	name, def, err := resolveObject(cat, objectName, objectType, objectLevel, objectIndex)
	if err != nil {
		return err
	}

	s, err := newSession(cat)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.connect(ctx); err != nil {
		return err
	}

	value, err := s.get(def)
	if err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	return NewFormatter(outputFmt).PrintValue(newValueEvent(name, def, value))
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

var (
	setValue  string
	setVerify bool
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the value of an object",
	Long: `Set sends one SetValue command and waits for the device response.

Values are parsed according to the object data type. Positions are written
as x,y,z and blobs as hex.

Examples:
  # Set a gain in dB
  edgeo-ocp1 set -H 10.0.0.20 -O matrix-input-gain-1 -V -6.5

  # Move a sound object
  edgeo-ocp1 set -H 10.0.0.20 -O source-position-1 -V 0.25,0.5,0

  # Write and read back
  edgeo-ocp1 set -H 10.0.0.20 -O matrix-output-mute-2 -V 1 --verify`,

	RunE: runSet,
}

func init() {
	objectFlags(setCmd)
	setCmd.Flags().StringVarP(&setValue, "value", "V", "", "Value to write")
	setCmd.Flags().BoolVar(&setVerify, "verify", false, "Read the value back after writing")
	setCmd.MarkFlagRequired("value")
}

func runSet(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	name, def, err := resolveObject(cat, objectName, objectType, objectLevel, objectIndex)
	if err != nil {
		return err
	}
	value, err := ocp1.ParseVariant(setValue, def.DataType)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}

	s, err := newSession(cat)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()
	if err := s.connect(ctx); err != nil {
		return err
	}

	handle, err := s.write(def, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	if err := s.await(ctx, handle); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	f := NewFormatter(outputFmt)
	if !setVerify {
		if f.format == FormatTable {
			f.Printf("OK: %s = %s (handle %d)\n", name, value, handle)
			return nil
		}
		return f.PrintValue(newValueEvent(name, def, value))
	}

	readBack, err := s.get(def)
	if err != nil {
		return fmt.Errorf("verify %s: %w", name, err)
	}
	if !readBack.Equal(value) {
		return fmt.Errorf("verify %s: device reports %s, wrote %s", name, readBack, value)
	}
	return f.PrintValue(newValueEvent(name, def, readBack))
}

// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

// Format is a catalog file encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// LoadError describes a catalog file that could not be used
type LoadError struct {
	File    string
	Entry   int
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("catalog")
	if e.File != "" {
		b.WriteString(" " + e.File)
	}
	if e.Entry > 0 {
		fmt.Fprintf(&b, " object %d", e.Entry)
	}
	b.WriteString(": " + e.Message)
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// fileObject is one object of a catalog file. Either ono or box and
// object (with optional type, record and channel) address the object.
type fileObject struct {
	Name    string  `yaml:"name" toml:"name"`
	ONo     *uint32 `yaml:"ono" toml:"ono"`
	ONoType *uint32 `yaml:"ono_type" toml:"ono_type"`
	Record  uint32  `yaml:"record" toml:"record"`
	Channel uint32  `yaml:"channel" toml:"channel"`
	Box     uint32  `yaml:"box" toml:"box"`
	Object  uint32  `yaml:"object" toml:"object"`
	Type    string  `yaml:"type" toml:"type"`
	Level   uint16  `yaml:"level" toml:"level"`
	Index   uint16  `yaml:"index" toml:"index"`
}

type file struct {
	Objects []fileObject `yaml:"objects" toml:"objects"`
}

// FormatFromPath picks the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("catalog: unknown file type %q", filepath.Ext(path))
	}
}

// Parse decodes a catalog document
func Parse(data []byte, format Format) (*Catalog, error) {
	var f file
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, &LoadError{Message: "invalid YAML", Cause: err}
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, &LoadError{Message: "invalid TOML", Cause: err}
		}
	default:
		return nil, &LoadError{Message: fmt.Sprintf("unsupported format %q", format)}
	}

	c := &Catalog{byName: make(map[string]int, len(f.Objects))}
	for i, obj := range f.Objects {
		def, err := obj.definition()
		if err != nil {
			return nil, &LoadError{Entry: i + 1, Message: err.Error()}
		}
		if err := c.Add(Entry{Name: obj.Name, Definition: def}); err != nil {
			return nil, &LoadError{Entry: i + 1, Message: err.Error()}
		}
	}
	return c, nil
}

// Load reads a YAML or TOML catalog file
func Load(path string) (*Catalog, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "cannot load", Cause: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	c, err := Parse(data, format)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, err
	}
	return c, nil
}

func (o fileObject) definition() (ocp1.CommandDefinition, error) {
	if strings.TrimSpace(o.Name) == "" {
		return ocp1.CommandDefinition{}, fmt.Errorf("name is required")
	}

	var ono uint32
	switch {
	case o.ONo != nil:
		ono = *o.ONo
	case o.Box != 0 || o.Object != 0:
		typ := uint32(DS100Type)
		if o.ONoType != nil {
			typ = *o.ONoType
		}
		ono = ONoTy2(typ, o.Record, o.Channel, o.Box, o.Object)
	default:
		return ocp1.CommandDefinition{}, fmt.Errorf("%s: ono or box/object is required", o.Name)
	}
	if ono == 0 {
		return ocp1.CommandDefinition{}, fmt.Errorf("%s: object number 0 is not addressable", o.Name)
	}

	t, err := ocp1.ParseDataType(o.Type)
	if err != nil {
		return ocp1.CommandDefinition{}, fmt.Errorf("%s: %w", o.Name, err)
	}
	if o.Level == 0 || o.Index == 0 {
		return ocp1.CommandDefinition{}, fmt.Errorf("%s: level and index must be positive", o.Name)
	}
	return ocp1.NewDefinition(ono, t, o.Level, o.Index), nil
}

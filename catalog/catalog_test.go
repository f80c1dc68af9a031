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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

func TestONoTy2(t *testing.T) {
	assert.Equal(t, uint32(0x20000D02), ONoTy2(2, 0, 0, 0x0D, 0x02))
	assert.Equal(t, uint32(0x20030502), ONoTy2(2, 0, 3, 0x05, 0x02))
	assert.Equal(t, uint32(0x21401601), ONoTy2(2, 2, 64, 0x16, 0x01))

	typ, record, channel, box, object := SplitONoTy2(0x21401601)
	assert.Equal(t, []uint32{2, 2, 64, 0x16, 0x01}, []uint32{typ, record, channel, box, object})
}

func TestDS100Catalog(t *testing.T) {
	c := DS100()

	gain, ok := c.Lookup("Matrix-Input-Gain-3")
	require.True(t, ok)
	assert.Equal(t, MatrixInputGain(3), gain)
	assert.Equal(t, ocp1.DataTypeFloat32, gain.DataType)
	assert.Equal(t, uint16(4), gain.PropDefLevel)

	name, ok := c.Lookup("device-name")
	require.True(t, ok)
	assert.Equal(t, ocp1.DataTypeString, name.DataType)
	assert.Equal(t, uint16(5), name.PropDefLevel)

	pos, ok := c.Lookup("mapping-4-source-position-64")
	require.True(t, ok)
	assert.Equal(t, ocp1.DataTypeDBPosition, pos.DataType)

	_, ok = c.Lookup("matrix-input-gain-65")
	assert.False(t, ok)

	assert.Equal(t, "matrix-output-mute-1", c.NameOf(MatrixOutputMute(1)))
	assert.Len(t, c.Filter("scene"), 3)

	// every object number in the built-in table is unique per property
	seen := make(map[uint32]string)
	for _, e := range c.Entries() {
		key := e.Definition.TargetONo
		if prev, dup := seen[key]; dup {
			t.Fatalf("%s and %s share object 0x%08x", prev, e.Name, key)
		}
		seen[key] = e.Name
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := New(
		Entry{Name: "a", Definition: MatrixInputGain(1)},
		Entry{Name: "A", Definition: MatrixInputGain(2)},
	)
	assert.Error(t, err)

	_, err = New(Entry{Definition: MatrixInputGain(1)})
	assert.Error(t, err)
}

func TestMergeOverrides(t *testing.T) {
	c := DS100()
	before := c.Len()

	custom, err := New(
		Entry{Name: "device-name", Definition: ocp1.NewDefinition(0x1234, ocp1.DataTypeString, 5, 1)},
		Entry{Name: "stage-left", Definition: ocp1.NewDefinition(0x4321, ocp1.DataTypeFloat32, 4, 1)},
	)
	require.NoError(t, err)
	c.Merge(custom)

	assert.Equal(t, before+1, c.Len())
	def, ok := c.Lookup("device-name")
	require.True(t, ok)
	assert.Equal(t, uint32(0x1234), def.TargetONo)
	assert.Len(t, c.FindByONo(0x4321), 1)
}

const yamlCatalog = `
objects:
  - name: stage-gain
    ono: 0x10010502
    type: float32
    level: 4
    index: 1
  - name: input-7-mute
    channel: 7
    box: 5
    object: 1
    type: uint8
    level: 4
    index: 1
`

const tomlCatalog = `
[[objects]]
name = "stage-gain"
ono = 0x10010502
type = "float"
level = 4
index = 1

[[objects]]
name = "input-7-mute"
channel = 7
box = 5
object = 1
type = "uint8"
level = 4
index = 1
`

func TestParseFormats(t *testing.T) {
	for _, tt := range []struct {
		format Format
		data   string
	}{
		{FormatYAML, yamlCatalog},
		{FormatTOML, tomlCatalog},
	} {
		t.Run(string(tt.format), func(t *testing.T) {
			c, err := Parse([]byte(tt.data), tt.format)
			require.NoError(t, err)
			require.Equal(t, 2, c.Len())

			gain, ok := c.Lookup("stage-gain")
			require.True(t, ok)
			assert.Equal(t, ocp1.NewDefinition(0x10010502, ocp1.DataTypeFloat32, 4, 1), gain)

			mute, ok := c.Lookup("input-7-mute")
			require.True(t, ok)
			assert.Equal(t, MatrixInputMute(7), mute)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "objects: [\n"},
		{"missing name", "objects:\n  - ono: 1\n    type: uint8\n    level: 4\n    index: 1\n"},
		{"missing address", "objects:\n  - name: x\n    type: uint8\n    level: 4\n    index: 1\n"},
		{"zero ono", "objects:\n  - name: x\n    ono: 0\n    type: uint8\n    level: 4\n    index: 1\n"},
		{"bad type", "objects:\n  - name: x\n    ono: 1\n    type: decibel\n    level: 4\n    index: 1\n"},
		{"zero level", "objects:\n  - name: x\n    ono: 1\n    type: uint8\n    index: 1\n"},
		{"duplicate", "objects:\n  - {name: x, ono: 1, type: uint8, level: 4, index: 1}\n  - {name: x, ono: 2, type: uint8, level: 4, index: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), FormatYAML)
			var le *LoadError
			assert.ErrorAs(t, err, &le)
		})
	}

	_, err := Parse([]byte(yamlCatalog), Format("ini"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rig.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = Load(filepath.Join(dir, "missing.toml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, filepath.Join(dir, "missing.toml"), le.File)

	_, err = Load(filepath.Join(dir, "rig.json"))
	assert.Error(t, err)
}

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

package ocp1

import (
	"encoding/binary"
	"fmt"
)

// CommandDefinition binds a device object property to the data needed to
// build commands against it. It is an immutable value: the command
// factories return modified copies.
type CommandDefinition struct {
	TargetONo    uint32
	DataType     DataType
	PropDefLevel uint16
	PropIndex    uint16
	MethodIndex  uint16
	ParamCount   uint8
	Params       []byte
}

// NewDefinition binds the property level.index of object ono
func NewDefinition(ono uint32, dataType DataType, propDefLevel, propIndex uint16) CommandDefinition {
	return CommandDefinition{
		TargetONo:    ono,
		DataType:     dataType,
		PropDefLevel: propDefLevel,
		PropIndex:    propIndex,
	}
}

func (d CommandDefinition) String() string {
	return fmt.Sprintf("0x%08x %d.%d (%s)", d.TargetONo, d.PropDefLevel, d.PropIndex, d.DataType)
}

// MatchesObject reports whether both definitions address the same property
func (d CommandDefinition) MatchesObject(other CommandDefinition) bool {
	return d.MatchesProperty(other.TargetONo, other.PropDefLevel, other.PropIndex)
}

// MatchesONo reports whether the definition targets ono
func (d CommandDefinition) MatchesONo(ono uint32) bool {
	return d.TargetONo == ono
}

// MatchesProperty reports whether the definition addresses ono level.index
func (d CommandDefinition) MatchesProperty(ono uint32, propDefLevel, propIndex uint16) bool {
	return d.TargetONo == ono && d.PropDefLevel == propDefLevel && d.PropIndex == propIndex
}

// GetValueCommand returns a definition for the property getter
func (d CommandDefinition) GetValueCommand() CommandDefinition {
	d.MethodIndex = MethodGetValue
	d.ParamCount = 0
	d.Params = nil
	return d
}

// SetValueCommand returns a definition for the property setter carrying v
// encoded as the bound data type
func (d CommandDefinition) SetValueCommand(v Variant) (CommandDefinition, error) {
	data, err := v.ToParamData(d.DataType)
	if err != nil {
		return CommandDefinition{}, fmt.Errorf("encode %s value: %w", d.DataType, err)
	}
	d.MethodIndex = MethodSetValue
	d.ParamCount = 1
	d.Params = data
	return d, nil
}

// AddSubscriptionCommand returns a definition that registers the bound
// property with the device's subscription manager for PropertyChanged
// events
func (d CommandDefinition) AddSubscriptionCommand() CommandDefinition {
	params := d.subscriptionParams()
	params = binary.BigEndian.AppendUint16(params, 0) // context
	params = append(params, DeliveryModeReliable)
	params = binary.BigEndian.AppendUint16(params, 0) // destination information

	return CommandDefinition{
		TargetONo:    ONoSubscriptionManager,
		DataType:     d.DataType,
		PropDefLevel: SubscriptionManagerDefLevel,
		PropIndex:    d.PropIndex,
		MethodIndex:  MethodAddSubscription,
		ParamCount:   5,
		Params:       params,
	}
}

// RemoveSubscriptionCommand returns a definition that withdraws a
// subscription made with AddSubscriptionCommand
func (d CommandDefinition) RemoveSubscriptionCommand() CommandDefinition {
	return CommandDefinition{
		TargetONo:    ONoSubscriptionManager,
		DataType:     d.DataType,
		PropDefLevel: SubscriptionManagerDefLevel,
		PropIndex:    d.PropIndex,
		MethodIndex:  MethodRemoveSubscription,
		ParamCount:   2,
		Params:       d.subscriptionParams(),
	}
}

// subscriptionParams encodes the OcaEvent and subscriber OcaMethod shared
// by the subscription manager methods
func (d CommandDefinition) subscriptionParams() []byte {
	params := make([]byte, 0, 21)
	params = binary.BigEndian.AppendUint32(params, d.TargetONo)
	params = binary.BigEndian.AppendUint16(params, EventDefLevel)
	params = binary.BigEndian.AppendUint16(params, EventIndex)
	params = binary.BigEndian.AppendUint32(params, d.TargetONo)
	params = binary.BigEndian.AppendUint16(params, d.PropDefLevel)
	params = binary.BigEndian.AppendUint16(params, d.PropIndex)
	return params
}

// Command builds the CommandResponseRequired message for this definition.
// The method is invoked at the bound property's definition level.
func (d CommandDefinition) Command(handle uint32) *Command {
	return &Command{
		ResponseRequired: true,
		Handle:           handle,
		TargetONo:        d.TargetONo,
		MethodDefLevel:   d.PropDefLevel,
		MethodIndex:      d.MethodIndex,
		ParamCount:       d.ParamCount,
		Params:           d.Params,
	}
}

// ValueFromData decodes a response or notification payload using the
// bound data type. Getters of ranged properties answer with current,
// minimum and maximum; only the current value is kept.
func (d CommandDefinition) ValueFromData(paramCount uint8, data []byte) (Variant, error) {
	if paramCount == 0 {
		return Variant{}, &ConversionError{From: "empty parameters", To: d.DataType.String()}
	}
	if w := d.DataType.FixedSize(); w > 0 && paramCount == 3 && len(data) == 3*w {
		data = data[:w]
	}
	return VariantFromData(data, d.DataType)
}

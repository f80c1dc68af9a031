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

	"github.com/edgeo/drivers/ocp1/ocp1"
)

// ONoTy2 builds a Type-2 object number as used by d&b DS100 processors:
//
//	bits 31..28  type
//	bits 27..23  record
//	bits 22..16  channel
//	bits 15..8   box
//	bits 7..0    object
func ONoTy2(typ, record, channel, box, object uint32) uint32 {
	return (typ&0xF)<<28 | (record&0x1F)<<23 | (channel&0x7F)<<16 | (box&0xFF)<<8 | object&0xFF
}

// SplitONoTy2 is the inverse of ONoTy2
func SplitONoTy2(ono uint32) (typ, record, channel, box, object uint32) {
	return ono >> 28, (ono >> 23) & 0x1F, (ono >> 16) & 0x7F, (ono >> 8) & 0xFF, ono & 0xFF
}

// DS100 object layout
const (
	DS100Type            = 0x02
	DS100MaxChannels     = 64
	DS100MappingAreas    = 4
	DS100SpeakerChannels = 64

	settingsBox          = 0x01
	settingsDeviceName   = 0x0d
	matrixSettingsBox    = 0x02
	reverbRoomID         = 0x0a
	reverbPredelayFactor = 0x04
	reverbRearLevel      = 0x15

	coordinateMappingBox = 0x16
	mappingSourcePos     = 0x01

	matrixInputBox   = 0x05
	matrixOutputBox  = 0x08
	matrixMute       = 0x01
	matrixGain       = 0x02
	matrixName       = 0x07
	matrixPreMute    = 0x09
	matrixPostMute   = 0x0a
	matrixReverbSend = 0x0d

	positioningBox       = 0x0d
	sourcePosition       = 0x02
	sourceSpread         = 0x04
	sourceDelayMode      = 0x0b
	speakerPosition      = 0x07
	sceneBox             = 0x17
	sceneIndex           = 0x01
	sceneName            = 0x03
	sceneComment         = 0x04
)

// OCA class levels of the DS100 properties
const (
	levelPositionAgent = 3
	levelActuator      = 4
	levelBasicActuator = 5
)

func ds100(record, channel, box, object uint32, t ocp1.DataType, level uint16) ocp1.CommandDefinition {
	return ocp1.NewDefinition(ONoTy2(DS100Type, record, channel, box, object), t, level, 1)
}

// DeviceName is the device name string
func DeviceName() ocp1.CommandDefinition {
	return ds100(0, 0, settingsBox, settingsDeviceName, ocp1.DataTypeString, levelBasicActuator)
}

// CoordinateMappingSourcePosition is the position of a sound object within
// mapping area record
func CoordinateMappingSourcePosition(record, channel uint32) ocp1.CommandDefinition {
	return ds100(record, channel, coordinateMappingBox, mappingSourcePos, ocp1.DataTypeDBPosition, levelPositionAgent)
}

// SourcePosition is the absolute position of a sound object
func SourcePosition(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, positioningBox, sourcePosition, ocp1.DataTypeDBPosition, levelPositionAgent)
}

// SourceSpread is the spread factor of a sound object
func SourceSpread(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, positioningBox, sourceSpread, ocp1.DataTypeFloat32, levelBasicActuator)
}

// SourceDelayMode is the delay mode switch of a sound object
func SourceDelayMode(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, positioningBox, sourceDelayMode, ocp1.DataTypeUint16, levelActuator)
}

// SpeakerPosition is the position and aiming of a loudspeaker
func SpeakerPosition(record, channel uint32) ocp1.CommandDefinition {
	return ds100(record, channel, positioningBox, speakerPosition, ocp1.DataTypeDBPosition, levelPositionAgent)
}

// MatrixInputMute is the mute state of a matrix input
func MatrixInputMute(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixInputBox, matrixMute, ocp1.DataTypeUint8, levelActuator)
}

// MatrixInputGain is the gain of a matrix input in dB
func MatrixInputGain(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixInputBox, matrixGain, ocp1.DataTypeFloat32, levelActuator)
}

// MatrixInputChannelName is the name of a matrix input
func MatrixInputChannelName(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixInputBox, matrixName, ocp1.DataTypeString, levelBasicActuator)
}

// MatrixInputLevelMeterPreMute is the pre-mute input level
func MatrixInputLevelMeterPreMute(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixInputBox, matrixPreMute, ocp1.DataTypeFloat32, levelActuator)
}

// MatrixInputReverbSendGain is the reverb send gain of a matrix input
func MatrixInputReverbSendGain(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixInputBox, matrixReverbSend, ocp1.DataTypeFloat32, levelActuator)
}

// MatrixOutputMute is the mute state of a matrix output
func MatrixOutputMute(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixOutputBox, matrixMute, ocp1.DataTypeUint8, levelActuator)
}

// MatrixOutputGain is the gain of a matrix output in dB
func MatrixOutputGain(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixOutputBox, matrixGain, ocp1.DataTypeFloat32, levelActuator)
}

// MatrixOutputChannelName is the name of a matrix output
func MatrixOutputChannelName(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixOutputBox, matrixName, ocp1.DataTypeString, levelBasicActuator)
}

// MatrixOutputLevelMeterPreMute is the pre-mute output level
func MatrixOutputLevelMeterPreMute(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixOutputBox, matrixPreMute, ocp1.DataTypeFloat32, levelActuator)
}

// MatrixOutputLevelMeterPostMute is the post-mute output level
func MatrixOutputLevelMeterPostMute(channel uint32) ocp1.CommandDefinition {
	return ds100(0, channel, matrixOutputBox, matrixPostMute, ocp1.DataTypeFloat32, levelActuator)
}

// ReverbRoomID selects the reverb room
func ReverbRoomID() ocp1.CommandDefinition {
	return ds100(0, 0, matrixSettingsBox, reverbRoomID, ocp1.DataTypeUint16, levelActuator)
}

// ReverbPredelayFactor is the reverb predelay factor
func ReverbPredelayFactor() ocp1.CommandDefinition {
	return ds100(0, 0, matrixSettingsBox, reverbPredelayFactor, ocp1.DataTypeFloat32, levelActuator)
}

// ReverbRearLevel is the reverb rear level in dB
func ReverbRearLevel() ocp1.CommandDefinition {
	return ds100(0, 0, matrixSettingsBox, reverbRearLevel, ocp1.DataTypeFloat32, levelActuator)
}

// SceneIndex is the index of the current scene, e.g. "1.0"
func SceneIndex() ocp1.CommandDefinition {
	return ds100(0, 0, sceneBox, sceneIndex, ocp1.DataTypeString, levelBasicActuator)
}

// SceneName is the name of the current scene
func SceneName() ocp1.CommandDefinition {
	return ds100(0, 0, sceneBox, sceneName, ocp1.DataTypeString, levelBasicActuator)
}

// SceneComment is the comment of the current scene
func SceneComment() ocp1.CommandDefinition {
	return ds100(0, 0, sceneBox, sceneComment, ocp1.DataTypeString, levelBasicActuator)
}

// DS100 returns the built-in catalog of a d&b DS100: device settings,
// 64 matrix inputs and outputs, sound object positioning and scenes.
func DS100() *Catalog {
	c := &Catalog{byName: make(map[string]int)}
	add := func(name string, def ocp1.CommandDefinition) {
		c.byName[name] = len(c.entries)
		c.entries = append(c.entries, Entry{Name: name, Definition: def})
	}

	add("device-name", DeviceName())
	add("reverb-room-id", ReverbRoomID())
	add("reverb-predelay-factor", ReverbPredelayFactor())
	add("reverb-rear-level", ReverbRearLevel())
	add("scene-index", SceneIndex())
	add("scene-name", SceneName())
	add("scene-comment", SceneComment())

	for ch := uint32(1); ch <= DS100MaxChannels; ch++ {
		add(fmt.Sprintf("matrix-input-mute-%d", ch), MatrixInputMute(ch))
		add(fmt.Sprintf("matrix-input-gain-%d", ch), MatrixInputGain(ch))
		add(fmt.Sprintf("matrix-input-name-%d", ch), MatrixInputChannelName(ch))
		add(fmt.Sprintf("matrix-input-level-%d", ch), MatrixInputLevelMeterPreMute(ch))
		add(fmt.Sprintf("matrix-input-reverb-send-%d", ch), MatrixInputReverbSendGain(ch))
		add(fmt.Sprintf("source-position-%d", ch), SourcePosition(ch))
		add(fmt.Sprintf("source-spread-%d", ch), SourceSpread(ch))
		add(fmt.Sprintf("source-delay-mode-%d", ch), SourceDelayMode(ch))
		for area := uint32(1); area <= DS100MappingAreas; area++ {
			add(fmt.Sprintf("mapping-%d-source-position-%d", area, ch), CoordinateMappingSourcePosition(area, ch))
		}
	}
	for ch := uint32(1); ch <= DS100MaxChannels; ch++ {
		add(fmt.Sprintf("matrix-output-mute-%d", ch), MatrixOutputMute(ch))
		add(fmt.Sprintf("matrix-output-gain-%d", ch), MatrixOutputGain(ch))
		add(fmt.Sprintf("matrix-output-name-%d", ch), MatrixOutputChannelName(ch))
		add(fmt.Sprintf("matrix-output-level-pre-%d", ch), MatrixOutputLevelMeterPreMute(ch))
		add(fmt.Sprintf("matrix-output-level-post-%d", ch), MatrixOutputLevelMeterPostMute(ch))
	}
	for ch := uint32(1); ch <= DS100SpeakerChannels; ch++ {
		add(fmt.Sprintf("speaker-position-%d", ch), SpeakerPosition(0, ch))
	}
	return c
}

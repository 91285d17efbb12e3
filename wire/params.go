// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

// Param identifies a detector parameter or system operation by its
// semantic name. Wire codes are internal: callers never handle raw
// command bytes.
type Param uint8

const (
	ParamInvalid Param = iota

	// System operations.
	ParamSaveSettings
	ParamLoadSettings
	ParamSaveDefaults
	ParamLoadDefaults

	// Basic parameters.
	ParamIntegrationTime
	ParamNonIntTime
	ParamOperationMode
	ParamDMGain
	ParamChannelConfig
	ParamScanControl

	// Correction parameters.
	ParamEnableGain
	ParamEnableOffset
	ParamEnableBaseline
	ParamLoadGain
	ParamLoadOffset
	ParamBaselineValue
	ParamResetGain
	ParamResetOffset
	ParamLoadPDCPos
	ParamLoadPDCCoef
	ParamEnablePDC
	ParamPDCPosition

	// Output parameters.
	ParamOutputScale

	// Trigger parameters.
	ParamLineTriggerMode
	ParamLineTriggerEnable
	ParamLineTriggerFineDelay
	ParamLineTriggerRawDelay
	ParamFrameTriggerMode
	ParamFrameTriggerEnable
	ParamFrameTriggerDelay
	ParamSendFrameTrigger
	ParamTriggerParity

	// Device information.
	ParamHeartbeatPeriod
	ParamGCUSerial
	ParamDMSerial
	ParamPixelCount
	ParamPixelSize
	ParamPixelDepth
	ParamIntegrationRange
	ParamGCUFirmware
	ParamDMFirmware
	ParamTestPattern
	ParamDMTestMode
	ParamDMPixelCount
	ParamCardNumPerDFE
	ParamCardType
	ParamGCUInfo
	ParamDMInfo
	ParamLED
	ParamEnergyMode
	ParamGainTableID
	ParamMTUSize
)

// Permissions on a parameter, one bit per operation.
const (
	PermRead = 1 << iota
	PermWrite
	PermExec
	PermLoad
)

// ParamInfo describes the wire mapping of one parameter: its command
// code, the operations the firmware accepts, the payload width in bytes
// (0 for none, -1 for a variable-length string) and whether the
// parameter is addressed per detector module.
type ParamInfo struct {
	Code      uint8
	Perm      uint8
	Width     int
	PerModule bool
}

// IsString reports whether the parameter carries a variable-length
// string payload.
func (nfo ParamInfo) IsString() bool { return nfo.Width < 0 }

var paramTable = map[Param]ParamInfo{
	ParamSaveSettings: {Code: 0x10, Perm: PermExec},
	ParamLoadSettings: {Code: 0x10, Perm: PermLoad},
	ParamSaveDefaults: {Code: 0x11, Perm: PermExec},
	ParamLoadDefaults: {Code: 0x11, Perm: PermLoad},

	ParamIntegrationTime: {Code: 0x20, Perm: PermRead | PermWrite, Width: 4},
	ParamNonIntTime:      {Code: 0x21, Perm: PermRead | PermWrite, Width: 2},
	ParamOperationMode:   {Code: 0x22, Perm: PermRead | PermWrite, Width: 1},
	ParamDMGain:          {Code: 0x23, Perm: PermRead | PermWrite, Width: 2, PerModule: true},
	ParamChannelConfig:   {Code: 0x25, Perm: PermRead | PermWrite, Width: 4},
	ParamScanControl:     {Code: 0x27, Perm: PermRead | PermWrite, Width: 1},

	ParamEnableGain:     {Code: 0x30, Perm: PermRead | PermWrite, Width: 1, PerModule: true},
	ParamEnableOffset:   {Code: 0x31, Perm: PermRead | PermWrite, Width: 1, PerModule: true},
	ParamEnableBaseline: {Code: 0x32, Perm: PermRead | PermWrite, Width: 1, PerModule: true},
	ParamLoadGain:       {Code: 0x33, Perm: PermLoad},
	ParamLoadOffset:     {Code: 0x34, Perm: PermLoad},
	ParamBaselineValue:  {Code: 0x35, Perm: PermRead | PermWrite, Width: 2, PerModule: true},
	ParamResetGain:      {Code: 0x37, Perm: PermExec},
	ParamResetOffset:    {Code: 0x38, Perm: PermExec},
	ParamLoadPDCPos:     {Code: 0x39, Perm: PermLoad},
	ParamLoadPDCCoef:    {Code: 0x3A, Perm: PermLoad},
	ParamEnablePDC:      {Code: 0x3B, Perm: PermRead | PermWrite, Width: 1},
	ParamPDCPosition:    {Code: 0x3C, Perm: PermRead | PermWrite, Width: 2},

	ParamOutputScale: {Code: 0x43, Perm: PermRead | PermWrite, Width: 1},

	ParamLineTriggerMode:      {Code: 0x50, Perm: PermRead | PermWrite, Width: 1},
	ParamLineTriggerEnable:    {Code: 0x51, Perm: PermRead | PermWrite, Width: 1},
	ParamLineTriggerFineDelay: {Code: 0x52, Perm: PermRead | PermWrite, Width: 2},
	ParamLineTriggerRawDelay:  {Code: 0x53, Perm: PermRead | PermWrite, Width: 2},
	ParamFrameTriggerMode:     {Code: 0x54, Perm: PermRead | PermWrite, Width: 1},
	ParamFrameTriggerEnable:   {Code: 0x55, Perm: PermRead | PermWrite, Width: 2},
	ParamFrameTriggerDelay:    {Code: 0x56, Perm: PermRead | PermWrite, Width: 2},
	ParamSendFrameTrigger:     {Code: 0x57, Perm: PermExec},
	ParamTriggerParity:        {Code: 0x5A, Perm: PermRead | PermWrite, Width: 1},

	ParamHeartbeatPeriod:  {Code: 0x60, Perm: PermRead | PermWrite, Width: 2},
	ParamGCUSerial:        {Code: 0x62, Perm: PermRead, Width: -1},
	ParamDMSerial:         {Code: 0x63, Perm: PermRead, Width: -1, PerModule: true},
	ParamPixelCount:       {Code: 0x64, Perm: PermRead, Width: 2},
	ParamPixelSize:        {Code: 0x65, Perm: PermRead, Width: 1},
	ParamIntegrationRange: {Code: 0x67, Perm: PermRead, Width: 4},
	ParamGCUFirmware:      {Code: 0x68, Perm: PermRead, Width: 2},
	ParamDMFirmware:       {Code: 0x69, Perm: PermRead, Width: 2, PerModule: true},
	ParamTestPattern:      {Code: 0x6A, Perm: PermRead | PermWrite, Width: 1},
	ParamDMTestMode:       {Code: 0x6B, Perm: PermRead | PermWrite, Width: 1, PerModule: true},
	ParamDMPixelCount:     {Code: 0x6C, Perm: PermRead, Width: 2, PerModule: true},
	ParamCardNumPerDFE:    {Code: 0x6D, Perm: PermRead, Width: 1},
	ParamCardType:         {Code: 0x6E, Perm: PermRead, Width: 1},
	ParamGCUInfo:          {Code: 0x72, Perm: PermRead, Width: -1},
	ParamDMInfo:           {Code: 0x73, Perm: PermRead, Width: -1, PerModule: true},
	ParamLED:              {Code: 0x75, Perm: PermRead | PermWrite, Width: 1},
	ParamEnergyMode:       {Code: 0x7B, Perm: PermRead | PermWrite, Width: 1},
	ParamGainTableID:      {Code: 0x7C, Perm: PermRead | PermWrite, Width: 1},
	ParamMTUSize:          {Code: 0x7E, Perm: PermRead | PermWrite, Width: 2},
}

// Lookup returns the wire mapping for p. ok is false for parameters the
// catalog does not map (ParamPixelDepth among them: the firmware under
// test does not expose a depth register).
func Lookup(p Param) (ParamInfo, bool) {
	nfo, ok := paramTable[p]
	return nfo, ok
}

// LookupCode returns the catalog entry for a raw wire code.
func LookupCode(code uint8) (ParamInfo, bool) {
	for _, nfo := range paramTable {
		if nfo.Code == code {
			return nfo, true
		}
	}
	return ParamInfo{}, false
}

// Package telemetry turns raw CAN frames into typed, display-ready telemetry
// updates and routes them to whichever presentation sink is active.
package telemetry

// Update is one decoded, display-ready value derived from a single inbound
// frame. It is a closed set: only the variants in this file implement it.
type Update interface {
	// Kind returns a stable label for metrics and logging.
	Kind() string
	isUpdate()
}

// CabinTemp is the cabin temperature in degrees Celsius.
type CabinTemp struct {
	Celsius float32
}

// TrunkTemp is the trunk temperature in degrees Celsius.
type TrunkTemp struct {
	Celsius float32
}

// Speed carries the raw measured speed plus its derived display quantities.
type Speed struct {
	RawMPS  float32 // as received, meters per second
	MPH     float32 // RawMPS converted to miles per hour
	Percent float32 // RawMPS relative to the configured maximum, clamped to [0,100]
}

// PackSOC is the battery pack state of charge. Percent arrives on the wire
// already scaled to 0-100; WattHours is derived from the configured pack
// capacity.
type PackSOC struct {
	Percent   uint8
	WattHours float32
}

// BPSFault reports the battery protection system fault line.
type BPSFault struct {
	Faulted bool
}

func (CabinTemp) Kind() string { return "cabin_temp" }
func (TrunkTemp) Kind() string { return "trunk_temp" }
func (Speed) Kind() string     { return "speed" }
func (PackSOC) Kind() string   { return "pack_soc" }
func (BPSFault) Kind() string  { return "bps_fault" }

func (CabinTemp) isUpdate() {}
func (TrunkTemp) isUpdate() {}
func (Speed) isUpdate()     {}
func (PackSOC) isUpdate()   {}
func (BPSFault) isUpdate()  {}

// Package backend implements the Backend abstraction & registry (spec
// component B): the narrow capability interface each device driver must
// implement, the PreparedModel interface it produces, and the
// process-singleton registry populated at init time.
package backend

// DeviceID identifies a backend process-wide. A backend and the device it
// drives are the same thing in this spec (§9 glossary).
type DeviceID int

// DeviceType classifies the hardware a backend drives.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeCPU
	DeviceTypeGPU
	DeviceTypeNPU
	DeviceTypeOther
)

// DeviceStatus reports current device availability.
type DeviceStatus int

const (
	DeviceStatusAvailable DeviceStatus = iota
	DeviceStatusBusy
	DeviceStatusOffline
)

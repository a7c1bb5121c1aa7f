package gmux

// PCI vendor/device identities relevant to classification.
const (
	VendorIntel  = 0x8086
	VendorNVIDIA = 0x10de

	// GeForce 9400M: early switchable MacBook Pros use it as the integrated
	// controller even though it carries the discrete vendor's identity.
	deviceGeForce9400M = 0x0863
)

// Classify maps a graphics controller's PCI identity to its mux role. Intel
// parts are always the integrated controller; the 9400M is hardcoded as
// integrated; everything else is discrete. Pure function.
func Classify(vendor, device uint16) Role {
	switch {
	case vendor == VendorIntel:
		return RoleIntegrated
	case vendor == VendorNVIDIA && device == deviceGeForce9400M:
		return RoleIntegrated
	default:
		return RoleDiscrete
	}
}

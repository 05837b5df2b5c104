package network

// NAME is the immutable 64-bit device identity used for address-claim
// arbitration (SAE J1939-81). Ordering is lexicographic on the raw
// 64-bit value — a lower NAME wins contention.
type NAME uint64

// Field layout, LSB-first:
//   identity number         : bits 0-20  (21 bits)
//   manufacturer code       : bits 21-31 (11 bits)
//   ECU instance            : bits 32-34 (3 bits)
//   function instance       : bits 35-39 (5 bits)
//   function                : bits 40-47 (8 bits)
//   reserved                : bit 48     (1 bit)
//   vehicle-system          : bits 49-55 (7 bits)
//   vehicle-system instance : bits 56-59 (4 bits)
//   industry group          : bits 60-62 (3 bits)
//   arbitrary-address-capable: bit 63    (1 bit)
const (
	identityNumberShift = 0
	identityNumberMask  = 0x1FFFFF

	manufacturerCodeShift = 21
	manufacturerCodeMask  = 0x7FF

	ecuInstanceShift = 32
	ecuInstanceMask  = 0x7

	functionInstanceShift = 35
	functionInstanceMask  = 0x1F

	functionShift = 40
	functionMask  = 0xFF

	vehicleSystemShift = 49
	vehicleSystemMask  = 0x7F

	vehicleSystemInstanceShift = 56
	vehicleSystemInstanceMask  = 0xF

	industryGroupShift = 60
	industryGroupMask  = 0x7

	arbitraryCapableShift = 63
)

// NameFields is the decomposed, human-editable form of a NAME.
type NameFields struct {
	IdentityNumber          uint32
	ManufacturerCode        uint16
	ECUInstance             uint8
	FunctionInstance        uint8
	Function                uint8
	VehicleSystem           uint8
	VehicleSystemInstance   uint8
	IndustryGroup           uint8
	ArbitraryAddressCapable bool
}

// NewNAME packs a NAME from its component fields.
func NewNAME(f NameFields) NAME {
	var n uint64
	n |= uint64(f.IdentityNumber&identityNumberMask) << identityNumberShift
	n |= uint64(f.ManufacturerCode&manufacturerCodeMask) << manufacturerCodeShift
	n |= uint64(f.ECUInstance&ecuInstanceMask) << ecuInstanceShift
	n |= uint64(f.FunctionInstance&functionInstanceMask) << functionInstanceShift
	n |= uint64(f.Function&functionMask) << functionShift
	n |= uint64(f.VehicleSystem&vehicleSystemMask) << vehicleSystemShift
	n |= uint64(f.VehicleSystemInstance&vehicleSystemInstanceMask) << vehicleSystemInstanceShift
	n |= uint64(f.IndustryGroup&industryGroupMask) << industryGroupShift
	if f.ArbitraryAddressCapable {
		n |= 1 << arbitraryCapableShift
	}
	return NAME(n)
}

// Fields decomposes a NAME into its component fields.
func (n NAME) Fields() NameFields {
	return NameFields{
		IdentityNumber:          uint32(n>>identityNumberShift) & identityNumberMask,
		ManufacturerCode:        uint16(n>>manufacturerCodeShift) & manufacturerCodeMask,
		ECUInstance:             uint8(n>>ecuInstanceShift) & ecuInstanceMask,
		FunctionInstance:        uint8(n>>functionInstanceShift) & functionInstanceMask,
		Function:                uint8(n>>functionShift) & functionMask,
		VehicleSystem:           uint8(n>>vehicleSystemShift) & vehicleSystemMask,
		VehicleSystemInstance:   uint8(n>>vehicleSystemInstanceShift) & vehicleSystemInstanceMask,
		IndustryGroup:           uint8(n>>industryGroupShift) & industryGroupMask,
		ArbitraryAddressCapable: (n>>arbitraryCapableShift)&1 == 1,
	}
}

// ArbitraryAddressCapable reports the NAME's single capability bit,
// which governs Contending-state behaviour in the address-claim FSM.
func (n NAME) ArbitraryAddressCapable() bool {
	return (uint64(n)>>arbitraryCapableShift)&1 == 1
}

// Less reports whether n wins address-claim contention against other:
// lower NAME, compared as unsigned 64-bit, wins.
func (n NAME) Less(other NAME) bool {
	return n < other
}

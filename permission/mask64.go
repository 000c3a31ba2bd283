package permission

// Mask64 is a capability set with one bit per Capability. The highest bit
// marks a holder granted every capability, present and future.
type Mask64 uint64

const allBit = 63

// All is the mask of a role that holds every capability.
const All Mask64 = 1 << allBit

// Has reports whether the set grants c.
func (m Mask64) Has(c Capability) bool {
	if c < 0 || c >= capabilityCount {
		return false
	}
	return m&All != 0 || m&(1<<uint(c)) != 0
}

// With returns the set plus c. Unknown capabilities are ignored.
func (m Mask64) With(c Capability) Mask64 {
	if c < 0 || c >= capabilityCount {
		return m
	}
	return m | 1<<uint(c)
}

// Without returns the set minus c.
func (m Mask64) Without(c Capability) Mask64 {
	if c < 0 || c >= capabilityCount {
		return m
	}
	return m &^ (1 << uint(c))
}

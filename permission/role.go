package permission

import (
	"errors"
	"strings"
)

// Role is one of the fixed clinic staff roles.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDentist      Role = "dentist"
	RoleHygienist    Role = "hygienist"
	RoleAssistant    Role = "assistant"
	RoleReceptionist Role = "receptionist"
	RoleManager      Role = "manager"
)

// Capability is a single permission bit.
type Capability int

const (
	CapViewPatients Capability = iota
	CapCreateTreatments
	CapManageAppointments
	CapCreateCleanings
	CapAssistTreatments
	CapManageUsers
	CapViewReports
	CapManageSessions
	capabilityCount
)

// ErrUnknownRole is returned by ParseRole for values outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

var capabilityNames = [capabilityCount]string{
	CapViewPatients:       "view_patients",
	CapCreateTreatments:   "create_treatments",
	CapManageAppointments: "manage_appointments",
	CapCreateCleanings:    "create_cleanings",
	CapAssistTreatments:   "assist_treatments",
	CapManageUsers:        "manage_users",
	CapViewReports:        "view_reports",
	CapManageSessions:     "manage_sessions",
}

func (c Capability) String() string {
	if c < 0 || c >= capabilityCount {
		return "unknown"
	}
	return capabilityNames[c]
}

var roleMasks = map[Role]Mask64{
	RoleAdmin:        All,
	RoleDentist:      maskOf(CapViewPatients, CapCreateTreatments, CapManageAppointments),
	RoleHygienist:    maskOf(CapViewPatients, CapCreateCleanings),
	RoleAssistant:    maskOf(CapViewPatients, CapAssistTreatments),
	RoleReceptionist: maskOf(CapManageAppointments, CapViewPatients),
	RoleManager:      maskOf(CapManageUsers, CapViewReports, CapManageSessions),
}

func maskOf(caps ...Capability) Mask64 {
	var m Mask64
	for _, c := range caps {
		m = m.With(c)
	}
	return m
}

// ParseRole maps a stored or claimed role name onto the closed set.
func ParseRole(value string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleMasks[r]; !ok {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Valid reports whether r belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := roleMasks[r]
	return ok
}

// Mask returns the capability set granted to r. Unknown roles get nothing.
func (r Role) Mask() Mask64 {
	return roleMasks[r]
}

// HasCapability is the single authorization check used by every endpoint.
func HasCapability(role Role, c Capability) bool {
	return roleMasks[role].Has(c)
}

// Capabilities lists the capability names granted to role, in bit order.
func Capabilities(role Role) []string {
	out := make([]string, 0, capabilityCount)
	for c := Capability(0); c < capabilityCount; c++ {
		if HasCapability(role, c) {
			out = append(out, c.String())
		}
	}
	return out
}

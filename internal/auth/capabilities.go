// Package auth provides authorization types for the documentation service.
package auth

// Role represents a user role in a clinical practice.
type Role string

const (
	RoleClinicAdmin Role = "clinic_admin" // Manage practice, users, exports
	RolePhysician   Role = "physician"    // Document and sign treatments
	RoleResident    Role = "resident"     // Document under supervision
	RoleObserver    Role = "observer"     // Read-only access
	RoleAuditor     Role = "auditor"      // Read-only audit access
)

// Capability represents a specific action a role may perform. Core code
// branches on capabilities only, never on role names.
type Capability string

const (
	CapWriteTreatments   Capability = "treatments.write"
	CapSignTreatments    Capability = "treatments.sign"
	CapReadTreatments    Capability = "treatments.read"
	CapWriteGoals        Capability = "goals.write"
	CapReadCertification Capability = "certification.read"
	CapReadAudit         Capability = "audit.read"
	CapRunExports        Capability = "exports.run"
)

// RoleCapabilities maps roles to their default capabilities.
var RoleCapabilities = map[Role][]Capability{
	RoleClinicAdmin: {
		CapWriteTreatments, CapSignTreatments, CapReadTreatments,
		CapWriteGoals, CapReadCertification, CapReadAudit, CapRunExports,
	},
	RolePhysician: {
		CapWriteTreatments, CapSignTreatments, CapReadTreatments,
		CapWriteGoals, CapReadCertification,
	},
	// Residents document but a physician signs.
	RoleResident: {
		CapWriteTreatments, CapReadTreatments, CapWriteGoals,
	},
	RoleObserver: {
		CapReadTreatments, CapReadCertification,
	},
	RoleAuditor: {
		CapReadAudit,
	},
}

// Checker resolves whether an actor holds a capability.
type Checker interface {
	HasCapability(roles []Role, cap Capability) bool
}

// RoleChecker is the default Checker backed by the static role table.
type RoleChecker struct{}

// HasCapability checks whether any of the roles grants the capability.
func (RoleChecker) HasCapability(roles []Role, cap Capability) bool {
	for _, r := range roles {
		for _, c := range RoleCapabilities[r] {
			if c == cap {
				return true
			}
		}
	}
	return false
}

// HasCapability checks a single role against the capability table.
func HasCapability(role Role, cap Capability) bool {
	return RoleChecker{}.HasCapability([]Role{role}, cap)
}

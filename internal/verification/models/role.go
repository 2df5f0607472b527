package models

// Role is the outcome of role resolution for a verified person.
type Role string

const (
	RoleNone     Role = ""
	RoleReporter Role = "REPORTER"
	RoleStaff    Role = "STAFF"
)

// StaffRole is the role carried on a StaffIdentity record.
type StaffRole string

const (
	StaffRoleAdmin   StaffRole = "ADMIN"
	StaffRoleAnalyst StaffRole = "ANALYST"
)

func (r StaffRole) IsValid() bool {
	return r == StaffRoleAdmin || r == StaffRoleAnalyst
}

// Resolution is the result of looking a document hash up in the staff
// directory. A disabled staff identity resolves with Disabled set and must not
// progress.
type Resolution struct {
	Role      Role
	StaffRole StaffRole
	StaffID   string
	Disabled  bool
}

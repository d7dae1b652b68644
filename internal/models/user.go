package models

// UserRole represents the roles issued by the identity service.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleStaff      UserRole = "STAFF"
	RoleTutor      UserRole = "TUTOR"
)

// PipelineRoles may work the lead board.
func PipelineRoles() []UserRole {
	return []UserRole{RoleSuperAdmin, RoleAdmin, RoleStaff}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

package guard

import "membergate/pkg/requestcontext"

// Permission names one guarded operation. The role→permission mapping is a
// static table, never per-request logic.
type Permission string

const (
	PermOrgRegister        Permission = "org.register"
	PermOrgRead            Permission = "org.read"
	PermOrgDelete          Permission = "org.delete"
	PermOrgApprove         Permission = "org.approve"
	PermOrgReject          Permission = "org.reject"
	PermOrgSuspend         Permission = "org.suspend"
	PermOrgActivate        Permission = "org.activate"
	PermEndpointSubmit     Permission = "endpoint.submit"
	PermEndpointReview     Permission = "endpoint.review"
	PermConnectivityReport Permission = "connectivity.report"
	PermCredentialIssue    Permission = "credential.issue"
	PermCredentialRotate   Permission = "credential.rotate"
	PermCredentialRevoke   Permission = "credential.revoke"
	PermVerificationSubmit Permission = "verification.submit"
	PermVerificationReview Permission = "verification.review"
	PermAuditRead          Permission = "audit.read"
)

// rolePermissions is the complete authorization table. Operators additionally
// bypass ownership checks; members must also own the resource they touch.
var rolePermissions = map[requestcontext.Role]map[Permission]bool{
	requestcontext.RoleOperator: {
		PermOrgRead:            true,
		PermOrgDelete:          true,
		PermOrgApprove:         true,
		PermOrgReject:          true,
		PermOrgSuspend:         true,
		PermOrgActivate:        true,
		PermEndpointReview:     true,
		PermCredentialIssue:    true,
		PermCredentialRotate:   true,
		PermCredentialRevoke:   true,
		PermVerificationReview: true,
		PermAuditRead:          true,
	},
	requestcontext.RoleMember: {
		PermOrgRegister:        true,
		PermOrgRead:            true,
		PermEndpointSubmit:     true,
		PermConnectivityReport: true,
		PermCredentialRotate:   true,
		PermVerificationSubmit: true,
	},
	requestcontext.RoleAuditor: {
		PermAuditRead: true,
	},
}

// roleGrants reports whether any of the caller's roles grants the permission.
func roleGrants(roles []requestcontext.Role, perm Permission) bool {
	for _, role := range roles {
		if rolePermissions[role][perm] {
			return true
		}
	}
	return false
}

package rbac

// 权限常量
const (
	PermissionReadMail    = "mail:read"
	PermissionCleanupMail = "mail:cleanup"
	PermissionRestoreMail = "mail:restore"
	PermissionWriteRules  = "rules:write"
)

// 角色常量
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// 角色权限映射。viewer 只能看分析结果；operator 可以清理、恢复和运行规则；admin 还能修改规则。
var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadMail,
	},
	RoleOperator: {
		PermissionReadMail,
		PermissionCleanupMail,
		PermissionRestoreMail,
	},
	RoleAdmin: {
		PermissionReadMail,
		PermissionCleanupMail,
		PermissionRestoreMail,
		PermissionWriteRules,
	},
}

// ValidRole 角色是否已定义
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(subject, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Subject:    subject,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Subject    string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission + " requires a role other than " + e.Role
}

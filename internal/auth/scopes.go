package auth

// Known OAuth scopes used by the service.
const (
	ScopeWorkoutsWrite     = "workouts:write"
	ScopeWorkoutsRead      = "workouts:read"
	ScopeSubscribersManage = "subscribers:manage"
)

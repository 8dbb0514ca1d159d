package rbac

import (
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

type Role struct {
	Name        string
	Permissions []Permission
}

const policyModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

// Policy answers role/permission checks. It is backed by an in-memory
// casbin enforcer rebuilt wholesale on Reload.
type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{}
	p.Reload(roles)
	return p
}

func (p *Policy) Reload(roles []Role) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return
	}
	for _, role := range roles {
		name := strings.ToLower(strings.TrimSpace(role.Name))
		if name == "" {
			continue
		}
		for _, perm := range role.Permissions {
			_, _ = e.AddPolicy(name, string(perm))
		}
	}
	p.mu.Lock()
	p.enforcer = e
	p.mu.Unlock()
}

func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	e := p.enforcer
	p.mu.RUnlock()
	if e == nil {
		return false
	}
	for _, role := range roles {
		ok, err := e.Enforce(strings.ToLower(strings.TrimSpace(role)), string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultRoles is the built-in role set: HQ staff drive the workflow,
// area officers submit resolutions, admin carries everything.
func DefaultRoles() []Role {
	return []Role{
		{Name: "admin", Permissions: []Permission{
			"complaints.view", "complaints.assign", "complaints.notify",
			"complaints.decide", "complaints.reopen",
			"directory.view", "logs.view", "accounts.manage",
		}},
		{Name: "hq", Permissions: []Permission{
			"complaints.view", "complaints.assign", "complaints.decide",
			"complaints.reopen", "directory.view", "logs.view",
		}},
		{Name: "area", Permissions: []Permission{
			"complaints.view", "complaints.notify", "directory.view",
		}},
	}
}

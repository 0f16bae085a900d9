package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/docstore/apperr"
)

// Manager administers users, roles, and tokens. Each table is guarded by
// its own lock, per spec.md §5 ("the users, roles, and tokens tables are
// independently synchronized").
type Manager struct {
	TokenExpiration time.Duration
	rules           *RuleEngine

	usersMu sync.RWMutex
	users   map[string]*User

	rolesMu sync.RWMutex
	roles   map[string]*Role

	tokensMu sync.RWMutex
	tokens   map[string]*AuthToken
}

// NewManager constructs a Manager with the built-in roles installed and
// tokenExpiration applied to every freshly issued token.
func NewManager(tokenExpiration time.Duration) *Manager {
	rules, _ := NewRuleEngine()
	return &Manager{
		TokenExpiration: tokenExpiration,
		rules:           rules,
		users:           make(map[string]*User),
		roles:           builtinRoles(),
		tokens:          make(map[string]*AuthToken),
	}
}

// RegisterUser creates a new user with a salted, hashed password. Returns
// false if the username already exists. initialRole defaults to "User".
func (m *Manager) RegisterUser(username, password string, initialRole string) (bool, error) {
	if initialRole == "" {
		initialRole = RoleUser
	}

	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	if _, exists := m.users[username]; exists {
		return false, nil
	}

	salt, err := generateSalt()
	if err != nil {
		return false, err
	}
	storedKey, err := deriveKey(password, salt)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	m.users[username] = &User{
		Username:  username,
		Salt:      salt,
		StoredKey: storedKey,
		Roles:     map[string]bool{initialRole: true},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

// Authenticate verifies username/password and, on success, issues a
// fresh AuthToken. Returns (nil, nil) on a failed authentication attempt
// (not found or wrong password) — spec.md §4.8's "returns ... or null".
func (m *Manager) Authenticate(username, password string) (*AuthToken, error) {
	m.usersMu.RLock()
	user, ok := m.users[username]
	m.usersMu.RUnlock()
	if !ok {
		return nil, nil
	}

	storedKey, err := deriveKey(password, user.Salt)
	if err != nil {
		return nil, err
	}
	if storedKey != user.StoredKey {
		return nil, nil
	}

	now := time.Now().UTC()
	token := &AuthToken{
		Id:        uuid.NewString(),
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.TokenExpiration),
	}
	m.tokensMu.Lock()
	m.tokens[token.Id] = token
	m.tokensMu.Unlock()
	return token, nil
}

// ValidateToken reports whether tokenId is present and unexpired.
func (m *Manager) ValidateToken(tokenId string) bool {
	m.tokensMu.RLock()
	token, ok := m.tokens[tokenId]
	m.tokensMu.RUnlock()
	if !ok {
		return false
	}
	return time.Now().UTC().Before(token.ExpiresAt)
}

// RevokeToken idempotently removes tokenId.
func (m *Manager) RevokeToken(tokenId string) {
	m.tokensMu.Lock()
	delete(m.tokens, tokenId)
	m.tokensMu.Unlock()
}

// ChangePassword verifies oldPassword before installing newPassword.
// Returns false on mismatch; subsequent Authenticate calls with
// oldPassword then fail.
func (m *Manager) ChangePassword(username, oldPassword, newPassword string) (bool, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return false, nil
	}
	storedKey, err := deriveKey(oldPassword, user.Salt)
	if err != nil {
		return false, err
	}
	if storedKey != user.StoredKey {
		return false, nil
	}

	salt, err := generateSalt()
	if err != nil {
		return false, err
	}
	newStoredKey, err := deriveKey(newPassword, salt)
	if err != nil {
		return false, err
	}
	user.Salt = salt
	user.StoredKey = newStoredKey
	user.UpdatedAt = time.Now().UTC()
	return true, nil
}

// AssignRole grants roleName to username. Returns NotFound if either is
// unknown.
func (m *Manager) AssignRole(username, roleName string) error {
	m.rolesMu.RLock()
	_, roleExists := m.roles[roleName]
	m.rolesMu.RUnlock()
	if !roleExists {
		return apperr.New(apperr.NotFound, "role not found", nil)
	}

	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return apperr.New(apperr.NotFound, "user not found", nil)
	}
	user.Roles[roleName] = true
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveRole revokes roleName from username.
func (m *Manager) RemoveRole(username, roleName string) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return apperr.New(apperr.NotFound, "user not found", nil)
	}
	delete(user.Roles, roleName)
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// UserHasRole reports whether username carries roleName.
func (m *Manager) UserHasRole(username, roleName string) bool {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	user, ok := m.users[username]
	if !ok {
		return false
	}
	return user.Roles[roleName]
}

// UserHasPermission reports whether the union of username's roles grants
// perm.
func (m *Manager) UserHasPermission(username string, perm Permission) bool {
	perms := m.GetUserPermissions(username)
	return perms[perm]
}

// GetUserRoles returns the role names assigned to username.
func (m *Manager) GetUserRoles(username string) []string {
	m.usersMu.RLock()
	user, ok := m.users[username]
	m.usersMu.RUnlock()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(user.Roles))
	for r := range user.Roles {
		out = append(out, r)
	}
	return out
}

// GetUserPermissions returns the union of permissions across username's
// roles.
func (m *Manager) GetUserPermissions(username string) map[Permission]bool {
	m.usersMu.RLock()
	user, ok := m.users[username]
	m.usersMu.RUnlock()
	if !ok {
		return map[Permission]bool{}
	}

	m.rolesMu.RLock()
	defer m.rolesMu.RUnlock()
	out := make(map[Permission]bool)
	for roleName := range user.Roles {
		role, ok := m.roles[roleName]
		if !ok {
			continue
		}
		for p, granted := range role.Permissions {
			if granted {
				out[p] = true
			}
		}
	}
	return out
}

// CreateRole registers a new role. Permissions default to empty if nil.
func (m *Manager) CreateRole(name, description string, permissions map[Permission]bool) {
	if permissions == nil {
		permissions = map[Permission]bool{}
	}
	m.rolesMu.Lock()
	defer m.rolesMu.Unlock()
	m.roles[name] = &Role{Name: name, Description: description, Permissions: permissions}
}

// DeleteRole removes a role definition. It does not retroactively strip
// the role from users that already hold it, matching bundoc's "roles are
// references, not owned data" convention.
func (m *Manager) DeleteRole(name string) {
	m.rolesMu.Lock()
	defer m.rolesMu.Unlock()
	delete(m.roles, name)
}

// GetAllRoles returns every registered role.
func (m *Manager) GetAllRoles() []*Role {
	m.rolesMu.RLock()
	defer m.rolesMu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out
}

// RemoveUser deletes username, all its role bindings (held inline on the
// User record, so deleting it is enough), and every outstanding token it
// owns, per spec.md §3 ("removing a user removes all role bindings and
// invalidates any outstanding tokens it owns"). Returns false if absent.
func (m *Manager) RemoveUser(username string) bool {
	m.usersMu.Lock()
	if _, ok := m.users[username]; !ok {
		m.usersMu.Unlock()
		return false
	}
	delete(m.users, username)
	m.usersMu.Unlock()

	m.tokensMu.Lock()
	for id, tok := range m.tokens {
		if tok.Username == username {
			delete(m.tokens, id)
		}
	}
	m.tokensMu.Unlock()
	return true
}

// Authorize checks tokenId for validity and the owning user for perm,
// optionally evaluating each held role's CEL rule against resourceCtx.
func (m *Manager) Authorize(tokenId string, perm Permission, resourceCtx map[string]interface{}) AuthorizeResult {
	m.tokensMu.RLock()
	token, ok := m.tokens[tokenId]
	m.tokensMu.RUnlock()
	if !ok {
		return AuthorizeResult{IsAuthorized: false, FailureKind: string(apperr.InvalidToken), FailureReason: apperr.New(apperr.InvalidToken, "token not found", nil).Error()}
	}
	if time.Now().UTC().After(token.ExpiresAt) {
		return AuthorizeResult{IsAuthorized: false, FailureKind: string(apperr.TokenExpired), FailureReason: apperr.New(apperr.TokenExpired, "token has expired", nil).Error()}
	}

	if !m.UserHasPermission(token.Username, perm) {
		return AuthorizeResult{IsAuthorized: false, FailureKind: string(apperr.InsufficientPermission), FailureReason: apperr.New(apperr.InsufficientPermission, "user lacks required permission", nil).Error()}
	}

	if !m.rulesSatisfied(token.Username, resourceCtx) {
		return AuthorizeResult{IsAuthorized: false, FailureKind: string(apperr.InsufficientPermission), FailureReason: apperr.New(apperr.InsufficientPermission, "role rule denied access", nil).Error()}
	}

	return AuthorizeResult{IsAuthorized: true}
}

func (m *Manager) rulesSatisfied(username string, resourceCtx map[string]interface{}) bool {
	if m.rules == nil {
		return true
	}
	m.usersMu.RLock()
	user, ok := m.users[username]
	m.usersMu.RUnlock()
	if !ok {
		return false
	}

	m.rolesMu.RLock()
	roleNames := make([]string, 0, len(user.Roles))
	for r := range user.Roles {
		roleNames = append(roleNames, r)
	}
	roles := make([]*Role, 0, len(roleNames))
	for _, r := range roleNames {
		if role, ok := m.roles[r]; ok {
			roles = append(roles, role)
		}
	}
	m.rolesMu.RUnlock()

	ctx := map[string]interface{}{"resource": resourceCtx, "request": map[string]interface{}{}}
	for _, role := range roles {
		if role.Rule == "" {
			continue
		}
		ok, err := m.rules.Evaluate(role.Rule, ctx)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

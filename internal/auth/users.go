package auth

import "fmt"

// User is a password login account.
type User struct {
	Name         string
	PasswordHash string
	Role         Role
}

// Users authenticates logins against a fixed account list loaded from
// config. It is read-only after construction and safe for concurrent use.
type Users struct {
	byName map[string]User

	// decoy is verified for unknown names so both failures cost the same.
	decoy string
}

// NewUsers validates every account's role and hash.
func NewUsers(users []User) (*Users, error) {
	u := &Users{byName: make(map[string]User, len(users))}
	for _, user := range users {
		if !IsValidRole(user.Role) {
			return nil, fmt.Errorf("user %q: %w %q", user.Name, ErrInvalidRole, user.Role)
		}
		if _, err := decodePHC(user.PasswordHash); err != nil {
			return nil, fmt.Errorf("user %q: %w", user.Name, err)
		}
		u.byName[user.Name] = user
	}

	decoy, err := HashPassword("")
	if err != nil {
		return nil, err
	}
	u.decoy = decoy
	return u, nil
}

// Len returns the number of accounts.
func (u *Users) Len() int { return len(u.byName) }

// Authenticate returns the role of name when password matches.
func (u *Users) Authenticate(name, password string) (Role, error) {
	user, known := u.byName[name]
	hash := user.PasswordHash
	if !known {
		hash = u.decoy
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		return "", fmt.Errorf("verifying %q: %w", name, err)
	}
	if !known || !ok {
		return "", ErrInvalidCredentials
	}
	return user.Role, nil
}

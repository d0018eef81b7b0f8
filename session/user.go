package session

import "time"

// Role identifies what kind of account a user holds.
type Role string

const (
	RoleCustomer        Role = "customer"
	RoleDriver          Role = "driver"
	RoleRestaurantOwner Role = "restaurant_owner"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleRestaurantOwner:
		return true
	}
	return false
}

// User is the canonical user record. The remote row is the source of truth;
// the local snapshot cached in the store is a full copy keyed by ID.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	Onboarded bool      `json:"onboarded"`
}

// ProfileUpdate carries the mutable profile fields. Empty fields are left
// unchanged on the remote row.
type ProfileUpdate struct {
	Email    string
	Name     string
	Username string
}

func (p ProfileUpdate) fields() map[string]any {
	f := make(map[string]any)
	if p.Email != "" {
		f["email"] = p.Email
	}
	if p.Name != "" {
		f["name"] = p.Name
	}
	if p.Username != "" {
		f["username"] = p.Username
	}
	return f
}

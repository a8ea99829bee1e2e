package models

import "time"

// User is the backend-side profile record. It is separate from the identity
// provider's account record.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Avatar    *string    `json:"avatar,omitempty"`
	Bio       *string    `json:"bio,omitempty"`
	Roles     []string   `json:"roles"`
	IsBlocked bool       `json:"isBlocked"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// ProfileStatus is the backend's answer to "does the current identity have a profile".
type ProfileStatus struct {
	HasProfile bool  `json:"hasProfile"`
	User       *User `json:"user,omitempty"`
}

// UserUpdate carries the admin-editable fields of a user. Nil fields are left unchanged.
type UserUpdate struct {
	FirstName *string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"lastName,omitempty" validate:"omitempty,max=100"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	IsBlocked *bool   `json:"isBlocked,omitempty"`
}

// RolesUpdate replaces the role list of a user.
type RolesUpdate struct {
	Roles []string `json:"roles" validate:"required,dive,role_name"`
}

// UserListParams are the paging and filter parameters of the admin user list.
type UserListParams struct {
	Page    int    `json:"page" validate:"min=1"`
	PerPage int    `json:"perPage" validate:"min=1,max=100"`
	Filter  string `json:"filter,omitempty" validate:"max=200"`
}

// UserPage is one page of the admin user list.
type UserPage struct {
	Items   []User `json:"items"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
	Total   int    `json:"total"`
}

package users

import "time"

// User is a registry viewer account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsSuperuser  bool      `json:"is_superuser"`
	DateJoined   time.Time `json:"date_joined"`
}

// GetID implements shared.Viewer.
func (u *User) GetID() int64 { return u.ID }

// IsSuperUser implements shared.Viewer.
func (u *User) IsSuperUser() bool { return u.IsSuperuser }

// IsActiveUser implements shared.Viewer.
func (u *User) IsActiveUser() bool { return u.IsActive }

// CreateInput describes a new account.
type CreateInput struct {
	Username  string `validate:"required,max=150"`
	Password  string `validate:"required,min=1"`
	Email     string `validate:"omitempty,email"`
	Superuser bool
}

package dto

// CreateUserDTO is the admin form for opening an account. Role defaults to
// "user".
type CreateUserDTO struct {
	Username string `json:"username" binding:"required,min=2,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"omitempty,oneof=user admin"`
}

// SetStatusDTO uses a pointer so that an explicit false is not mistaken for
// a missing field.
type SetStatusDTO struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

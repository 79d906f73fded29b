package dto

type SignUpDTO struct {
	Username string `json:"username" binding:"required,min=2,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type SignInDTO struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshDTO is only read when the refresh_token cookie is absent. Sign-out
// accepts the same body.
type RefreshDTO struct {
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordDTO is the body of POST /api/auth/me/password.
type ChangePasswordDTO struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6,nefield=CurrentPassword"`
}

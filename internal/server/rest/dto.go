package rest

import (
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/server/models"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type updateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,notblank,max=100"`
	Email    *string `json:"email" validate:"omitempty,email,max=254"`
	Password *string `json:"password" validate:"omitempty,min=8,maxbytes=72"`
	Role     *string `json:"role" validate:"omitempty,oneof=user admin"`
}

// userView is the public shape of a user. The password hash never leaves
// the service.
type userView struct {
	ID        string    `json:"id" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	Email     string    `json:"email" validate:"required,email"`
	Role      string    `json:"role" validate:"required,oneof=user admin"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
	UpdatedAt time.Time `json:"updated_at" validate:"required"`
}

func toView(u *models.User) userView {
	return userView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type authData struct {
	User  userView `json:"user"`
	Token string   `json:"token" validate:"required"`
}

type userData struct {
	User userView `json:"user"`
}

type usersData struct {
	Users []userView `json:"users" validate:"dive"`
}

type tokenData struct {
	Token string `json:"token" validate:"required"`
}

type healthData struct {
	Status   string `json:"status" validate:"required"`
	WorkerID int    `json:"worker_id"`
	PID      int    `json:"pid" validate:"required"`
	Uptime   string `json:"uptime" validate:"required"`
}

// successBody wraps every successful payload.
type successBody struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

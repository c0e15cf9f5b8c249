package rest

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/dmitrijs2005/clusterapi/internal/server/services"
	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	setPayload(c, http.StatusOK, &healthData{
		Status:   "ok",
		WorkerID: s.workerID,
		PID:      s.pid,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) register(c *gin.Context) {
	req := request[registerRequest](c)
	res, err := s.users.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.Role(req.Role),
	}, credential(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	setPayload(c, http.StatusCreated, &authData{User: toView(res.User), Token: res.Token})
}

func (s *Server) login(c *gin.Context) {
	req := request[loginRequest](c)
	res, err := s.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}
	setPayload(c, http.StatusOK, &authData{User: toView(res.User), Token: res.Token})
}

// logout is stateless: the client drops its token.
func (s *Server) logout(c *gin.Context) {
	setPayload(c, http.StatusOK, nil)
}

func (s *Server) refresh(c *gin.Context) {
	token, err := s.users.Refresh(c.Request.Context(), bearerToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	setPayload(c, http.StatusOK, &tokenData{Token: token})
}

func (s *Server) me(c *gin.Context) {
	u, err := s.users.Get(c.Request.Context(), credential(c).SubjectID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	setPayload(c, http.StatusOK, &userData{User: toView(u)})
}

func (s *Server) listUsers(c *gin.Context) {
	list, err := s.users.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	views := make([]userView, 0, len(list))
	for _, u := range list {
		views = append(views, toView(u))
	}
	setPayload(c, http.StatusOK, &usersData{Users: views})
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		_ = c.Error(common.ErrUndecodableID)
		return
	}
	u, err := s.users.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	setPayload(c, http.StatusOK, &userData{User: toView(u)})
}

func (s *Server) updateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		_ = c.Error(common.ErrUndecodableID)
		return
	}
	req := request[updateUserRequest](c)
	in := services.UpdateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}
	if req.Role != nil {
		role := models.Role(*req.Role)
		in.Role = &role
	}

	u, err := s.users.Update(c.Request.Context(), id, in, credential(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	setPayload(c, http.StatusOK, &userData{User: toView(u)})
}

func (s *Server) deleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		_ = c.Error(common.ErrUndecodableID)
		return
	}
	if err := s.users.Delete(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	setPayload(c, http.StatusNoContent, nil)
}

package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Request stages run in this order on every API route:
//
//	decryptIDs -> authenticate -> authorize / ownerOrAdmin -> bindJSON -> handler
//
// A failing stage records its error with c.Error and aborts; respond, which
// wraps the whole chain, turns that into the single error response.

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(token string) (*models.Credential, error)
}

// IDCodec (de)ciphers identifiers and the id fields of JSON trees.
type IDCodec interface {
	Decrypt(ciphertext string) (string, error)
	EncryptTree(v any) any
	DecryptTree(v any) any
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// withRequestID keeps a caller supplied X-Request-ID or mints one.
func withRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(common.RequestIDHeaderName)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(common.RequestIDHeaderName, id)
		c.Next()
	}
}

// decryptIDs replaces :id with its plaintext and decrypts every id field of
// a JSON body. An undecodable path id is recorded as absent, which handlers
// report as not found. A body that is not JSON is a validation error.
func (s *Server) decryptIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.Param("id"); raw != "" {
			plain, err := s.codec.Decrypt(raw)
			if err != nil {
				plain = ""
			}
			c.Set(ctxPathID, plain)
		}

		if c.Request.Body == nil || c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, common.NewValidationError(common.FieldError{Field: "body", Message: "unreadable body"}))
			return
		}
		if len(bytes.TrimSpace(data)) == 0 {
			c.Next()
			return
		}

		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var tree any
		if err := dec.Decode(&tree); err != nil {
			fail(c, common.NewValidationError(common.FieldError{Field: "body", Message: "malformed JSON"}))
			return
		}
		c.Set(ctxBody, s.codec.DecryptTree(tree))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader(common.AuthorizationHeaderName)
	if !strings.HasPrefix(h, common.BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, common.BearerPrefix))
}

// authenticate requires a valid bearer credential.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := s.tokens.Verify(bearerToken(c))
		if err != nil {
			s.logger.Info(c.Request.Context(), "authentication failed",
				"reason", err.Error(), "path", c.FullPath(), "request_id", requestID(c))
			fail(c, err)
			return
		}
		c.Set(ctxCredential, cred)
		c.Next()
	}
}

// optionalAuthenticate attaches a credential when one is sent. A token that
// is present but bad still fails the request.
func (s *Server) optionalAuthenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(common.AuthorizationHeaderName) == "" {
			c.Next()
			return
		}
		s.authenticate()(c)
	}
}

// authorize admits only credentials whose role is in roles.
func authorize(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := credential(c)
		if cred == nil || !slices.Contains(roles, cred.Role) {
			fail(c, common.ErrorForbidden)
			return
		}
		c.Next()
	}
}

// ownerOrAdmin admits admins, and anyone else only when the decrypted :id is
// their own subject id.
func ownerOrAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := credential(c)
		if cred == nil {
			fail(c, common.ErrorForbidden)
			return
		}
		if cred.IsAdmin() {
			c.Next()
			return
		}
		if id, ok := pathID(c); !ok || id != cred.SubjectID {
			fail(c, common.ErrorForbidden)
			return
		}
		c.Next()
	}
}

// bindJSON validates the decrypted body into a fresh T, reporting every
// violated field at once.
func bindJSON[T any](s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		dst := new(T)
		if err := bindTree(s.validate, decodedBody(c), dst); err != nil {
			fail(c, err)
			return
		}
		c.Set(ctxRequest, dst)
		c.Next()
	}
}

// respond wraps the chain. After the handler (or a failing stage) returns it
// writes exactly one response: the error envelope, or the payload once it
// has passed its response schema and had its ids encrypted.
func (s *Server) respond() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			s.writeError(c, c.Errors.Last().Err)
			return
		}

		p, ok := getPayload(c)
		if !ok {
			if !c.Writer.Written() {
				s.writeError(c, common.ErrorNotFound)
			}
			return
		}

		if p.status == http.StatusNoContent {
			c.Status(http.StatusNoContent)
			return
		}

		if p.data != nil {
			if err := s.validate.Struct(p.data); err != nil {
				s.logger.Error(c.Request.Context(), "response contract violation",
					"route", c.FullPath(), "fields", fieldErrors(err), "request_id", requestID(c))
				s.writeError(c, common.ErrResponseContract)
				return
			}
		}

		body, err := s.encryptBody(successBody{Status: "success", Data: p.data})
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(p.status, body)
	}
}

// encryptBody round-trips v through a JSON tree so ids can be encrypted
// wherever they appear.
func (s *Server) encryptBody(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return s.codec.EncryptTree(tree), nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, message, fields, internal := classify(err)
	// contract violations were already logged by respond
	if internal && !errors.Is(err, common.ErrResponseContract) {
		s.logger.Error(c.Request.Context(), "request failed",
			"error", err.Error(), "route", c.FullPath(), "request_id", requestID(c))
	}

	body := errorBody{Status: "error", Message: message, Errors: fields}
	if internal && s.cfg.IsDevelopment() {
		body.Detail = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

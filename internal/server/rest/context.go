package rest

import (
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/gin-gonic/gin"
)

// Keys of the per-request state threaded through the pipeline. All of it
// lives in the gin.Context and is dropped with it.
const (
	ctxCredential = "rest.credential"
	ctxPathID     = "rest.path_id"
	ctxBody       = "rest.body"
	ctxRequest    = "rest.request"
	ctxPayload    = "rest.payload"
	ctxRequestID  = "rest.request_id"
)

type payload struct {
	status int
	data   any
}

// setPayload records the handler's response. Nothing is written until the
// respond stage has checked and encrypted it.
func setPayload(c *gin.Context, status int, data any) {
	c.Set(ctxPayload, payload{status: status, data: data})
}

func getPayload(c *gin.Context) (payload, bool) {
	v, ok := c.Get(ctxPayload)
	if !ok {
		return payload{}, false
	}
	p, ok := v.(payload)
	return p, ok
}

func credential(c *gin.Context) *models.Credential {
	v, ok := c.Get(ctxCredential)
	if !ok {
		return nil
	}
	cred, _ := v.(*models.Credential)
	return cred
}

// pathID is the decrypted :id parameter. ok is false when the parameter was
// absent or could not be decrypted.
func pathID(c *gin.Context) (id string, ok bool) {
	v, exists := c.Get(ctxPathID)
	if !exists {
		return "", false
	}
	id, _ = v.(string)
	return id, id != ""
}

// decodedBody is the request body as a JSON tree after id decryption.
func decodedBody(c *gin.Context) any {
	v, _ := c.Get(ctxBody)
	return v
}

// request returns the validated request struct bound by bindJSON.
func request[T any](c *gin.Context) *T {
	v, ok := c.Get(ctxRequest)
	if !ok {
		return nil
	}
	r, _ := v.(*T)
	return r
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

package api

import (
	"errors"
	"net/http"

	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/gin-gonic/gin"
)

// failure is one failed step in a 207 body.
type failure struct {
	Step   string `json:"step"`
	UserID string `json:"userId"`
	Error  string `json:"error"`
}

// statusFor maps the trust error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var ve *trust.ValidationError
	var nf *trust.NotFoundError
	var pf *trust.PartialFailureError
	var pe *trust.PersistenceError
	switch {
	case errors.As(err, &pf):
		return http.StatusMultiStatus
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &pe):
		return http.StatusServiceUnavailable
	case errors.Is(err, trust.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders err. A partial failure also carries its step detail,
// and result, when non-nil, is included so callers see what committed.
func writeError(c *gin.Context, err error, result any) {
	_ = c.Error(err)
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var pf *trust.PartialFailureError
	if errors.As(err, &pf) {
		failed := make([]failure, 0, len(pf.Failed))
		for _, f := range pf.Failed {
			failed = append(failed, failure{Step: f.Step, UserID: f.UserID, Error: f.Err.Error()})
		}
		body["succeeded"] = pf.Succeeded
		body["failed"] = failed
	}
	var ve *trust.ValidationError
	if status == http.StatusBadRequest && errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	if result != nil && status == http.StatusMultiStatus {
		body["result"] = result
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, field, reason string) {
	writeError(c, &trust.ValidationError{Field: field, Reason: reason}, nil)
}

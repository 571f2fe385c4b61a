package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"transcode-pipeline/pkg/errno"
)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Success writes a 200 response with the given payload.
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, data)
}

// Accepted writes a 202 response, used by async admission.
func Accepted(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusAccepted, data)
}

// Failed decodes the error into the service taxonomy and writes the
// matching status plus {error, detail?} body.
func Failed(ctx *gin.Context, err error) {
	kind, detail := errno.Decode(err)
	ctx.JSON(kind.HTTPStatus(), ErrorBody{Error: kind.Message, Detail: detail})
}

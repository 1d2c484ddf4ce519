package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/platform/apierr"
	"github.com/rl1809/crop-market/internal/platform/logger"
)

// Envelope is the body of every response.
type Envelope struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message,omitempty"`
	Code       string                `json:"code,omitempty"`
	Data       any                   `json:"data,omitempty"`
	Pagination *domain.Pagination    `json:"pagination,omitempty"`
	Stats      *domain.InterestStats `json:"stats,omitempty"`
	IsOwner    *bool                 `json:"isOwner,omitempty"`
}

func respondOK(c *gin.Context, env Envelope) {
	env.Success = true
	c.JSON(http.StatusOK, env)
}

func respondCreated(c *gin.Context, env Envelope) {
	env.Success = true
	c.JSON(http.StatusCreated, env)
}

// respondError writes err as an error envelope. Errors that are not
// user-facing are logged and reported as INTERNAL_ERROR.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	ae := apierr.As(err)
	if ae.Kind == apierr.KindInternal {
		log.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"uid", callerUID(c),
			"error", err,
		)
	}
	c.AbortWithStatusJSON(ae.Status, Envelope{Message: ae.Error(), Code: ae.Code})
}

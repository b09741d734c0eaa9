// Package response maps service errors onto HTTP replies.
package response

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	log "github.com/sirupsen/logrus"
)

// Error writes the status matching err's kind and aborts the chain.
func Error(c *gin.Context, err error) {
	var validation *errs.ValidationError
	switch {
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": validation.Field})
	case errs.IsConfiguration(err):
		log.WithError(err).Error("configuration error while serving request")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "service misconfigured"})
	case errs.IsRetryable(err):
		log.WithError(err).Warn("storage failure while serving request")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable", "retryable": true})
	default:
		log.WithError(err).Error("unexpected error while serving request")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// BadRequest writes a 400 with msg.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// AccountParam parses the :id path parameter.
func AccountParam(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		BadRequest(c, "invalid account id")
		return 0, false
	}
	return id, true
}

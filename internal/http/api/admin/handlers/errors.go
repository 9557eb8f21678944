package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/modelmapping"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	log "github.com/sirupsen/logrus"
)

// writeError maps domain errors to HTTP responses. Unknown errors are logged and
// reported as fallback with a 500.
func writeError(c *gin.Context, err error, fallback string) {
	var resolutionErr *resolution.Error
	switch {
	case errors.As(err, &resolutionErr):
		c.JSON(resolutionErr.StatusCode(), gin.H{"error": resolutionErr.Error(), "code": resolutionErr.Code})
	case errors.Is(err, catalog.ErrInvalidInput), errors.Is(err, modelmapping.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// parseIDParam reads a numeric path parameter, writing a 400 when it is malformed.
func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

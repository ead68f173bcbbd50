package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// envelope is the wire shape of every API response.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{OK: true, Data: data})
}

// respondConflict carries a 409 with ok still true: the operation completed
// as a deliberate no-op and the payload explains why.
func respondConflict(c *gin.Context, data any) {
	c.JSON(http.StatusConflict, envelope{OK: true, Data: data})
}

func respondErr(c *gin.Context, err error) {
	c.JSON(kernelerr.StatusOf(err), envelope{OK: false, Error: err.Error()})
}

func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, envelope{OK: false, Error: message})
}

package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errs.Validation("units", "must be at least 1"), http.StatusBadRequest},
		{"configuration", errs.Configuration("ledger.default-plan", "missing"), http.StatusInternalServerError},
		{"persistence", errs.Persistence("ledger: consume", errors.New("conn reset")), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			Error(c, tc.err)
			assert.Equal(t, tc.want, rec.Code)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestAccountParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	id, ok := AccountParam(c)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: "0"}}
	_, ok = AccountParam(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAnswersValidation(t *testing.T) {
	h := &ReservationHandler{}
	e := echo.New()

	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"empty list", `{"answers": []}`},
		{"missing question identity", `{"answers": [{"answer": "Jane"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues("cart-1")
			require.NoError(t, h.SubmitAnswers(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code,
				"invalid answer payloads are rejected before anything is stored")
		})
	}
}

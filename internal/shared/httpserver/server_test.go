package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type panicky struct{}

func (panicky) Register(router fiber.Router) {
	router.Get("/boom", func(*fiber.Ctx) error { panic("boom") })
}

func TestServer_Health(t *testing.T) {
	s := NewServer()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "OK", string(body))
}

func TestServer_RecoversFromPanics(t *testing.T) {
	s := NewServer(panicky{})
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

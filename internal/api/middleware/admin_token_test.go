package middleware

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdminToken(t *testing.T) {
	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
	}{
		{
			name:           "valid header",
			headers:        map[string]string{AdminTokenHeader: "s3cret"},
			expectedStatus: 200,
		},
		{
			name:           "valid bearer",
			headers:        map[string]string{"Authorization": "Bearer s3cret"},
			expectedStatus: 200,
		},
		{
			name:           "wrong token",
			headers:        map[string]string{AdminTokenHeader: "guess"},
			expectedStatus: 401,
		},
		{
			name:           "malformed authorization",
			headers:        map[string]string{"Authorization": "Basic s3cret"},
			expectedStatus: 401,
		},
		{
			name:           "missing",
			headers:        nil,
			expectedStatus: 401,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(testLogger())})
			app.Use(AdminToken("s3cret"))
			app.Get("/test", func(c *fiber.Ctx) error {
				return c.SendString("OK")
			})

			req := httptest.NewRequest("GET", "/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			resp, err := app.Test(req)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestAdminToken_EmptyConfiguredTokenRejectsAll(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(testLogger())})
	app.Use(AdminToken(""))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(AdminTokenHeader, "")

	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

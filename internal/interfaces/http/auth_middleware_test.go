package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/dto"
	apphttp "github.com/jhoicas/dte-api/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/dte-api/pkg/jwt"
)

const middlewareSecret = "secreto-middleware"

// protectedApp expone GET /firmadores detrás de JWT + RBAC con los roles dados.
func protectedApp(roles ...string) *fiber.App {
	app := fiber.New()
	app.Get("/firmadores",
		apphttp.AuthMiddleware(middlewareSecret),
		apphttp.RequireRole(roles...),
		func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"user_id": apphttp.GetUserID(c), "role": apphttp.GetRole(c)})
		},
	)
	return app
}

func signed(t *testing.T, secret, userID, role string, minutes int) string {
	t.Helper()
	tok, err := pkgjwt.Generate(secret, userID, role, "dte-api", minutes)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestMiddleware_Autorizacion(t *testing.T) {
	cases := []struct {
		name   string
		roles  []string
		header func(t *testing.T) string
		status int
		code   string
	}{
		{
			name:   "admin en ruta de admin",
			roles:  []string{pkgjwt.RoleAdmin},
			header: func(t *testing.T) string { return signed(t, middlewareSecret, "ops-1", pkgjwt.RoleAdmin, 5) },
			status: http.StatusOK,
		},
		{
			name:   "emisor en ruta compartida",
			roles:  []string{pkgjwt.RoleAdmin, pkgjwt.RoleEmisor},
			header: func(t *testing.T) string { return signed(t, middlewareSecret, "u1", pkgjwt.RoleEmisor, 5) },
			status: http.StatusOK,
		},
		{
			name:   "emisor no administra firmadores",
			roles:  []string{pkgjwt.RoleAdmin},
			header: func(t *testing.T) string { return signed(t, middlewareSecret, "u1", pkgjwt.RoleEmisor, 5) },
			status: http.StatusForbidden,
			code:   "FORBIDDEN",
		},
		{
			name:   "token sin rol",
			roles:  []string{pkgjwt.RoleAdmin},
			header: func(t *testing.T) string { return signed(t, middlewareSecret, "u1", "", 5) },
			status: http.StatusUnauthorized,
			code:   "MISSING_ROLE",
		},
		{
			name:   "sin header",
			roles:  []string{pkgjwt.RoleAdmin},
			header: func(*testing.T) string { return "" },
			status: http.StatusUnauthorized,
			code:   "MISSING_TOKEN",
		},
		{
			name:   "esquema distinto de Bearer",
			roles:  []string{pkgjwt.RoleAdmin},
			header: func(*testing.T) string { return "Basic dTE6cGFzcw==" },
			status: http.StatusUnauthorized,
			code:   "INVALID_TOKEN",
		},
		{
			name:   "firmado con otro secreto",
			roles:  []string{pkgjwt.RoleAdmin},
			header: func(t *testing.T) string { return signed(t, "otro-secreto", "ops-1", pkgjwt.RoleAdmin, 5) },
			status: http.StatusUnauthorized,
			code:   "INVALID_TOKEN",
		},
		{
			name:   "expirado",
			roles:  []string{pkgjwt.RoleAdmin},
			header: func(t *testing.T) string { return signed(t, middlewareSecret, "ops-1", pkgjwt.RoleAdmin, -1) },
			status: http.StatusUnauthorized,
			code:   "INVALID_TOKEN",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/firmadores", nil)
			if h := tc.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			resp, err := protectedApp(tc.roles...).Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.code == "" {
				return
			}
			var body dto.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestMiddleware_DejaClaimsEnLocals(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/firmadores", nil)
	req.Header.Set("Authorization", signed(t, middlewareSecret, "ops-7", pkgjwt.RoleAdmin, 5))
	resp, err := protectedApp(pkgjwt.RoleAdmin).Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ops-7", body["user_id"])
	assert.Equal(t, pkgjwt.RoleAdmin, body["role"])
}

package jwt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/pkg/jwt"
)

func TestGenerateParse(t *testing.T) {
	tok, err := jwt.Generate("s3cret", "u1", jwt.RoleEmisor, "dte-api", 5)
	require.NoError(t, err)

	user, role, err := jwt.Parse("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", user)
	assert.Equal(t, jwt.RoleEmisor, role)
}

func TestParse_FirmaIncorrecta(t *testing.T) {
	tok, err := jwt.Generate("s3cret", "u1", jwt.RoleAdmin, "dte-api", 5)
	require.NoError(t, err)
	_, _, err = jwt.Parse("otro", tok)
	assert.Error(t, err)
}

func TestParse_Expirado(t *testing.T) {
	tok, err := jwt.Generate("s3cret", "u1", jwt.RoleAdmin, "dte-api", -1)
	require.NoError(t, err)
	_, _, err = jwt.Parse("s3cret", tok)
	assert.Error(t, err)
}

func TestGenerate_SecretVacio(t *testing.T) {
	_, err := jwt.Generate("", "u1", jwt.RoleAdmin, "dte-api", 5)
	assert.Error(t, err)
}

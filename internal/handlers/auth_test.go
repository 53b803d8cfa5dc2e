package handlers

import (
	"net/http"
	"testing"

	"chatworks/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{
		Phone:     "+15550001111",
		Username:  "alice",
		Password:  "secret123",
		FirstName: "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var reg models.AuthResponse
	decodeBody(t, w, &reg)
	require.NotEmpty(t, reg.Token)
	assert.Equal(t, "alice", reg.User.Username)
	assert.Equal(t, "+15550001111", reg.User.Phone)
	assert.NotContains(t, w.Body.String(), "password_hash")

	// The token works against a protected route.
	w = env.request(t, http.MethodGet, "/api/v1/auth/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.request(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Phone:    "+15550001111",
		Password: "secret123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login models.AuthResponse
	decodeBody(t, w, &login)
	assert.Equal(t, reg.User.ID, login.User.ID)
	assert.NotEmpty(t, login.Token)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{
		Phone:    "+15550002222",
		Username: "bob",
		Password: "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.request(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Phone:    "+15550002222",
		Password: "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	wrongPass := errorMessage(t, w)

	w = env.request(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Phone:    "+15559999999",
		Password: "secret123",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Unknown phone and wrong password are indistinguishable to the caller.
	assert.Equal(t, wrongPass, errorMessage(t, w))
}

func TestRegisterConflict(t *testing.T) {
	env := newHandlerEnv(t)

	req := models.RegisterRequest{Phone: "+15550003333", Username: "carol", Password: "secret123"}
	w := env.request(t, http.MethodPost, "/api/v1/auth/register", "", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.request(t, http.MethodPost, "/api/v1/auth/register", "", req)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Phone or username already registered", errorMessage(t, w))
}

func TestRegisterValidation(t *testing.T) {
	env := newHandlerEnv(t)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing phone", gin.H{"username": "dave", "password": "secret123"}},
		{"short username", gin.H{"phone": "+15550004444", "username": "dd", "password": "secret123"}},
		{"short password", gin.H{"phone": "+15550004444", "username": "dave", "password": "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.request(t, http.MethodPost, "/api/v1/auth/register", "", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCodeLoginCreatesAccount(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/auth/code", "", models.RequestCodeRequest{
		Phone: "+15550005555",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var issued struct {
		Code string `json:"code"`
	}
	decodeBody(t, w, &issued)
	require.NotEmpty(t, issued.Code)

	w = env.request(t, http.MethodPost, "/api/v1/auth/verify-code", "", models.VerifyCodeRequest{
		Phone: "+15550005555",
		Code:  issued.Code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first models.AuthResponse
	decodeBody(t, w, &first)
	assert.Equal(t, "+15550005555", first.User.Phone)
	assert.Equal(t, "+15550005555", first.User.Username, "fresh accounts use the phone as username")
	require.NotEmpty(t, first.Token)

	// Codes are single-use.
	w = env.request(t, http.MethodPost, "/api/v1/auth/verify-code", "", models.VerifyCodeRequest{
		Phone: "+15550005555",
		Code:  issued.Code,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired code", errorMessage(t, w))

	// A later code login lands on the same account.
	w = env.request(t, http.MethodPost, "/api/v1/auth/code", "", models.RequestCodeRequest{
		Phone: "+15550005555",
	})
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &issued)
	w = env.request(t, http.MethodPost, "/api/v1/auth/verify-code", "", models.VerifyCodeRequest{
		Phone: "+15550005555",
		Code:  issued.Code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second models.AuthResponse
	decodeBody(t, w, &second)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestVerifyCodeRejectsWrongCode(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/auth/code", "", models.RequestCodeRequest{
		Phone: "+15550006666",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPost, "/api/v1/auth/verify-code", "", models.VerifyCodeRequest{
		Phone: "+15550006666",
		Code:  "000000",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired code", errorMessage(t, w))
}

func TestGetMeRequiresAuth(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	_, token := env.seedUser(t, "erin")
	w = env.request(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		User models.User `json:"user"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, "erin", resp.User.Username)
}

func TestUpdateMe(t *testing.T) {
	env := newHandlerEnv(t)
	user, token := env.seedUser(t, "frank")

	w := env.request(t, http.MethodPut, "/api/v1/auth/me", token, gin.H{
		"first_name": "Francis",
		"bio":        "night owl",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		User models.User `json:"user"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, "Francis", resp.User.FirstName)
	require.NotNil(t, resp.User.Bio)
	assert.Equal(t, "night owl", *resp.User.Bio)

	stored, err := env.store.GetUser(nil, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Francis", stored.FirstName)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(caller.Hex()))
	})
}

func serveWithToken(handler http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/stake", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAuthenticatorExposesSubjectAsCaller(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "stakepool", Audience: "api"}, nil)
	handler := auth.Middleware()(callerEcho())

	token, err := IssueToken(testSecret, "stakepool", "api", addr, nil, time.Minute)
	require.NoError(t, err)
	res := serveWithToken(handler, token)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, addr.Hex(), res.Body.String())
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	addr := common.HexToAddress("0x01")
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "stakepool"}, nil)
	handler := auth.Middleware()(callerEcho())

	require.Equal(t, http.StatusUnauthorized, serveWithToken(handler, "").Code)

	forged, err := IssueToken("other-secret", "stakepool", "", addr, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serveWithToken(handler, forged).Code)

	wrongIssuer, err := IssueToken(testSecret, "elsewhere", "", addr, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serveWithToken(handler, wrongIssuer).Code)

	expired, err := IssueToken(testSecret, "stakepool", "", addr, nil, -time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serveWithToken(handler, expired).Code)

	noExpiry, err := IssueToken(testSecret, "stakepool", "", addr, nil, 0)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, serveWithToken(handler, noExpiry).Code)
}

func TestAuthenticatorEnforcesScopes(t *testing.T) {
	addr := common.HexToAddress("0x02")
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	handler := auth.Middleware("admin")(callerEcho())

	plain, err := IssueToken(testSecret, "", "", addr, []string{"stake"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, serveWithToken(handler, plain).Code)

	admin, err := IssueToken(testSecret, "", "", addr, []string{"stake", "admin"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, serveWithToken(handler, admin).Code)
}

func TestAuthenticatorDisabledUsesCallerHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	handler := auth.Middleware()(callerEcho())

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	req.Header.Set("X-Caller", "0x00000000000000000000000000000000000000b2")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, common.HexToAddress("0xb2").Hex(), res.Body.String())

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/pool", nil))
	require.Equal(t, http.StatusNoContent, res.Code)
}

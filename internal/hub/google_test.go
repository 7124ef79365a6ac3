package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	xerrors "forgeflow/internal/errors"
)

func writeCredentials(t *testing.T, dir, tokenURL string) string {
	t.Helper()
	path := filepath.Join(dir, "credentials.json")
	creds := fmt.Sprintf(`{"installed":{"client_id":"cid","client_secret":"secret","auth_uri":"https://accounts.example/auth","token_uri":%q,"redirect_uris":["urn:ietf:wg:oauth:2.0:oob"]}}`, tokenURL)
	require.NoError(t, os.WriteFile(path, []byte(creds), 0o600))
	return path
}

func TestGoogleAuthenticatorUsesCachedToken(t *testing.T) {
	dir := t.TempDir()
	conf := GConf{
		CredentialsPath: writeCredentials(t, dir, "https://oauth.example/token"),
		TokenPath:       filepath.Join(dir, "token.json"),
	}
	tok := &oauth2.Token{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, saveToken(conf.TokenPath, []string{"a", "b"}, tok))

	session, err := GoogleAuthenticator{}.Authenticate(context.Background(), conf, []string{"a"})
	require.NoError(t, err)
	assert.NotNil(t, session.Client)
	assert.Equal(t, []string{"a"}, session.Scopes)
}

func TestGoogleAuthenticatorRejectsNarrowToken(t *testing.T) {
	dir := t.TempDir()
	conf := GConf{
		CredentialsPath: writeCredentials(t, dir, "https://oauth.example/token"),
		TokenPath:       filepath.Join(dir, "token.json"),
	}
	tok := &oauth2.Token{AccessToken: "cached", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, saveToken(conf.TokenPath, []string{"a"}, tok))

	_, err := GoogleAuthenticator{}.Authenticate(context.Background(), conf, []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeAuth, xerrors.CodeOf(err))
}

func TestGoogleAuthenticatorExchangesCode(t *testing.T) {
	var gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotCode = r.Form.Get("code")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","refresh_token":"r1","expires_in":3600}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	conf := GConf{
		CredentialsPath: writeCredentials(t, dir, srv.URL),
		TokenPath:       filepath.Join(dir, "nested", "token.json"),
	}
	var shownURL string
	auth := GoogleAuthenticator{Prompt: func(_ context.Context, url string) (string, error) {
		shownURL = url
		return "the-code", nil
	}}

	_, err := auth.Authenticate(context.Background(), conf, []string{"scope-x"})
	require.NoError(t, err)
	assert.Equal(t, "the-code", gotCode)
	assert.Contains(t, shownURL, "access_type=offline")

	raw, err := os.ReadFile(conf.TokenPath)
	require.NoError(t, err)
	var stored storedToken
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "fresh", stored.Token.AccessToken)
	assert.Equal(t, []string{"scope-x"}, stored.Scopes)
}

func TestGoogleAuthenticatorMissingCredentials(t *testing.T) {
	_, err := GoogleAuthenticator{}.Authenticate(context.Background(), GConf{CredentialsPath: filepath.Join(t.TempDir(), "none.json")}, nil)
	assert.Equal(t, xerrors.CodeAuth, xerrors.CodeOf(err))
}

func TestStdinPrompter(t *testing.T) {
	var out strings.Builder
	code, err := StdinPrompter(strings.NewReader("  abc123 \n"), &out)(context.Background(), "https://auth.example")
	require.NoError(t, err)
	assert.Equal(t, "abc123", code)
	assert.Contains(t, out.String(), "https://auth.example")
}

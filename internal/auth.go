package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// UserInfo is the identity attached to a verified bearer token.
type UserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// TokenVerifier resolves a bearer token to a user, or fails.
type TokenVerifier = func(ctx context.Context, token string) (*UserInfo, error)

func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
}

// NewGoogleVerifier validates tokens by fetching the Google userinfo endpoint.
func NewGoogleVerifier(cfg *oauth2.Config) TokenVerifier {
	return newVerifier(cfg, userInfoURL)
}

func newVerifier(cfg *oauth2.Config, infoURL string) TokenVerifier {
	return func(ctx context.Context, token string) (*UserInfo, error) {
		if token == "" {
			return nil, fmt.Errorf("no token")
		}

		client := cfg.Client(ctx, &oauth2.Token{AccessToken: token})

		resp, err := client.Get(infoURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get user info: %w", err)
		}

		//goland:noinspection GoUnhandledErrorResult
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to get user info: %v", resp.Status)
		}

		info := &UserInfo{}
		if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
			return nil, fmt.Errorf("failed to decode user info: %w", err)
		}

		return info, nil
	}
}

// BearerToken pulls the token from the Authorization header, tolerating a
// bare token without the Bearer prefix.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return header[len(prefix):]
	}

	return header
}

func LoginRoute(cfg *oauth2.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, cfg.AuthCodeURL("state"), http.StatusTemporaryRedirect)
	}
}

// CallbackRoute exchanges the authorization code and hands the access token
// back to the opener window, which is how the extension popup gets it.
func CallbackRoute(cfg *oauth2.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := cfg.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, "failed to exchange code", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<body>
<p>Login successful. You can close this window.</p>
<script>
if (window.opener) {
  window.opener.postMessage({type: 'auth_success', token: %q}, '*');
}
setTimeout(function() { window.close(); }, 2000);
</script>
</body>
</html>
`, token.AccessToken)
	}
}

func UserRoute(verify TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		info, err := verify(r.Context(), BearerToken(r))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"authenticated": false})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"authenticated": true,
			"user":          info,
		})
	}
}

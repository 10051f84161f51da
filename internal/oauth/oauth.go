// Package oauth obtains and stores the Google OAuth2 token used by the Drive
// backend. The first run performs an installed-app loopback flow with PKCE;
// later runs reuse and refresh the stored token.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

var fs = afero.NewOsFs()

type Config struct {
	ClientID     string
	ClientSecret string
	TokenPath    string
	// Prompt receives the URL the user must open to grant access.
	Prompt io.Writer
}

func (c Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}
}

// TokenSource returns a token source that persists refreshed tokens back to
// TokenPath.
func TokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("drive client ID is not configured")
	}
	conf := cfg.oauth2Config()

	tok, err := LoadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		tok, err = authorize(ctx, conf, cfg.Prompt)
		if err != nil {
			return nil, fmt.Errorf("authorize: %w", err)
		}
		if err := SaveToken(cfg.TokenPath, tok); err != nil {
			return nil, err
		}
	}

	return &persistingSource{
		base: conf.TokenSource(ctx, tok),
		path: cfg.TokenPath,
		last: tok.AccessToken,
	}, nil
}

// LoadToken returns nil without error when no token is stored.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	return &tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// authorize runs the loopback flow: it listens on a random local port, asks
// the user to open the consent page and exchanges the returned code.
func authorize(ctx context.Context, conf *oauth2.Config, prompt io.Writer) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	conf.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	url := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	if prompt != nil {
		fmt.Fprintf(prompt, "Open the following URL to authorize access to Google Drive:\n\n  %s\n\n", url)
	}

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{Handler: callbackHandler(state, codes, errs)}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	defer srv.Close()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errs:
		return nil, err
	case code := <-codes:
		return conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	}
}

func callbackHandler(state string, codes chan<- string, errs chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization failed", http.StatusBadRequest)
			sendErr(errs, fmt.Errorf("authorization denied: %s", e))
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			sendErr(errs, errors.New("state mismatch in authorization response"))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			sendErr(errs, errors.New("authorization response has no code"))
			return
		}
		fmt.Fprintln(w, "crustasync is authorized. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})
}

func sendErr(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

package mailapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
)

// Login runs the OAuth consent flow once and saves the token to tokenFile.
// The code arrives either on a loopback redirect or pasted into in, whichever
// comes first.
func Login(ctx context.Context, credentialsFile, tokenFile string, in io.Reader, out io.Writer) error {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return fmt.Errorf("read credentials at %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailv1.GmailModifyScope)
	if err != nil {
		return fmt.Errorf("parse oauth config: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for redirect: %w", err)
	}
	cfg.RedirectURL = "http://" + ln.Addr().String()

	codes := make(chan string, 2)
	mux := http.NewServeMux()
	srv := &http.Server{ReadHeaderTimeout: 5 * time.Second, Handler: mux}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return
		}
		if code := codeFromInput(line); code != "" {
			select {
			case codes <- code:
			default:
			}
		}
	}()

	fmt.Fprintf(out, "Open this URL in a browser and grant access:\n\n%s\n\nor paste the code (or the redirected URL) here: ",
		cfg.AuthCodeURL("mailsweep", oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	var code string
	select {
	case <-ctx.Done():
		return ctx.Err()
	case code = <-codes:
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	if tok.RefreshToken == "" {
		return errors.New("no refresh token returned; revoke the app's access and try again")
	}
	return SaveToken(tokenFile, tok)
}

// codeFromInput accepts a bare code or a pasted redirect URL.
func codeFromInput(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return u.Query().Get("code")
	}
	return s
}

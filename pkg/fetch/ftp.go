package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPConfig configures the FTP fetcher.
type FTPConfig struct {
	// Timeout bounds the control connection dial.
	Timeout time.Duration

	// User and Password are the fallback credentials when the URL carries
	// none. Anonymous login is used when both are empty.
	User     string
	Password string
}

// DefaultFTPConfig returns the standard FTP fetcher settings.
func DefaultFTPConfig() FTPConfig {
	return FTPConfig{Timeout: 30 * time.Second}
}

// FTPFetcher downloads resources over FTP. A fresh connection is dialed per
// fetch; FTP servers are cheap to reconnect to and this keeps the fetcher
// stateless and safe for concurrent use.
type FTPFetcher struct {
	cfg FTPConfig
}

// NewFTPFetcher creates an FTP fetcher.
func NewFTPFetcher(cfg FTPConfig) *FTPFetcher {
	return &FTPFetcher{cfg: cfg}
}

// Fetch downloads rawURL, e.g. ftp://host/path/file.bin.
func (f *FTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ftp fetch: parse url: %w", err)
	}

	addr := u.Host
	if u.Port() == "" {
		addr += ":21"
	}

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("ftp fetch: dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Quit() }()

	user, pass := f.credentials(u)
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp fetch: login %s: %w", addr, err)
	}

	resp, err := conn.Retr(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("ftp fetch: retrieve %s: %w", u.Path, err)
	}
	defer func() { _ = resp.Close() }()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("ftp fetch: read %s: %w", u.Path, err)
	}
	return data, nil
}

// credentials picks URL userinfo over configured credentials over anonymous.
func (f *FTPFetcher) credentials(u *url.URL) (string, string) {
	if u.User != nil {
		pass, _ := u.User.Password()
		return u.User.Username(), pass
	}
	if f.cfg.User != "" {
		return f.cfg.User, f.cfg.Password
	}
	return "anonymous", "anonymous"
}

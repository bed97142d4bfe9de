package fetch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	smb2 "github.com/hirochachacha/go-smb2"
)

// SMBConfig configures the SMB fetcher.
type SMBConfig struct {
	// Timeout bounds the TCP dial.
	Timeout time.Duration

	// User, Password and Domain are the fallback credentials when the URL
	// carries none. A guest session is attempted when User is empty.
	User     string
	Password string
	Domain   string
}

// DefaultSMBConfig returns the standard SMB fetcher settings.
func DefaultSMBConfig() SMBConfig {
	return SMBConfig{Timeout: 30 * time.Second, User: "guest"}
}

// SMBFetcher downloads resources from SMB shares. URLs take the form
// smb://host/share/path/to/file; the first path segment names the share.
type SMBFetcher struct {
	cfg SMBConfig
}

// NewSMBFetcher creates an SMB fetcher.
func NewSMBFetcher(cfg SMBConfig) *SMBFetcher {
	return &SMBFetcher{cfg: cfg}
}

// Fetch downloads rawURL from the named share.
func (f *SMBFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("smb fetch: parse url: %w", err)
	}

	share, path, err := splitSharePath(u.Path)
	if err != nil {
		return nil, fmt.Errorf("smb fetch %s: %w", rawURL, err)
	}

	addr := u.Host
	if u.Port() == "" {
		addr += ":445"
	}

	dialer := &net.Dialer{Timeout: f.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smb fetch: dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	user, pass := f.credentials(u)
	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     user,
			Password: pass,
			Domain:   f.cfg.Domain,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("smb fetch: negotiate %s: %w", addr, err)
	}
	defer func() { _ = session.Logoff() }()

	fs, err := session.Mount(share)
	if err != nil {
		return nil, fmt.Errorf("smb fetch: mount %q on %s: %w", share, addr, err)
	}
	defer func() { _ = fs.Umount() }()

	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("smb fetch: read %q from %q: %w", path, share, err)
	}
	return data, nil
}

func (f *SMBFetcher) credentials(u *url.URL) (string, string) {
	if u.User != nil {
		pass, _ := u.User.Password()
		return u.User.Username(), pass
	}
	return f.cfg.User, f.cfg.Password
}

// splitSharePath splits /share/dir/file into ("share", "dir/file").
func splitSharePath(p string) (string, string, error) {
	p = strings.TrimPrefix(p, "/")
	share, rest, ok := strings.Cut(p, "/")
	if !ok || share == "" || rest == "" {
		return "", "", fmt.Errorf("url must name a share and a file path")
	}
	return share, rest, nil
}

// Package sftp implements the vendor handler for distributors that deliver
// catalog files over SFTP.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// Kind is the handler kind named in the vendor catalog.
const Kind = "sftp"

const defaultPort = "22"

// Compile-time interface satisfaction checks.
var (
	_ driven.VendorHandler  = (*Handler)(nil)
	_ driven.CatalogFetcher = (*Handler)(nil)
)

// Config holds settings shared by every SFTP handler.
type Config struct {
	// Timeout bounds a whole session when the caller's context has no
	// deadline. Zero means 30 seconds.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Handler logs in to one vendor's SFTP server with a password.
type Handler struct {
	vendorID    string
	port        string
	catalogPath string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewFactory returns a HandlerFactory building SFTP handlers with cfg.
func NewFactory(cfg Config) driven.HandlerFactory {
	return func(def model.VendorDefinition) (driven.VendorHandler, error) {
		return New(def, cfg)
	}
}

// New builds a handler from the vendor definition's options.
func New(def model.VendorDefinition, cfg Config) (*Handler, error) {
	port := def.Options["port"]
	if port == "" {
		port = defaultPort
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return nil, fmt.Errorf("vendor %q port option: invalid port %q", def.ID, port)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	catalogPath := def.Options["catalog_path"]
	if catalogPath == "" {
		catalogPath = "."
	}

	return &Handler{
		vendorID:    def.ID,
		port:        port,
		catalogPath: catalogPath,
		timeout:     timeout,
		logger:      logger.With("vendor_id", def.ID),
	}, nil
}

// TestConnection opens an SFTP session and stats the catalog directory.
func (h *Handler) TestConnection(ctx context.Context, fields map[string]string) model.ConnectionResult {
	s, err := h.open(ctx, fields)
	if err != nil {
		return model.ConnectionResult{Message: err.Error()}
	}
	defer s.close()

	info, err := s.client.Stat(s.dir)
	if err != nil {
		return model.ConnectionResult{Message: fmt.Sprintf("directory %q is not accessible: %v", s.dir, err)}
	}
	if !info.IsDir() {
		return model.ConnectionResult{Message: fmt.Sprintf("%q is not a directory", s.dir)}
	}

	return model.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("connected to %s as %s (directory %s, host key %s)", s.addr, fields["sftp_username"], s.dir, s.fingerprint),
	}
}

// FetchCatalog lists the catalog directory. Folders carry a trailing slash;
// Bytes is the total size of the listed files. It refuses credentials
// without a pinned host_key.
func (h *Handler) FetchCatalog(ctx context.Context, fields map[string]string) (model.CatalogListing, error) {
	// The password only goes to a server whose key was pinned after a
	// connection test reported it.
	if strings.TrimSpace(fields["host_key"]) == "" {
		return model.CatalogListing{}, fmt.Errorf("vendor %q: host_key must be pinned before fetching the catalog", h.vendorID)
	}

	s, err := h.open(ctx, fields)
	if err != nil {
		return model.CatalogListing{}, err
	}
	defer s.close()

	infos, err := s.client.ReadDirContext(ctx, s.dir)
	if err != nil {
		return model.CatalogListing{}, fmt.Errorf("list %s on %s: %w", s.dir, s.addr, err)
	}

	listing := model.CatalogListing{
		Source:    "sftp://" + s.addr + s.dir,
		Entries:   make([]string, 0, len(infos)),
		FetchedAt: time.Now().UTC(),
	}
	for _, fi := range infos {
		if fi.IsDir() {
			listing.Entries = append(listing.Entries, fi.Name()+"/")
			continue
		}
		listing.Entries = append(listing.Entries, fi.Name())
		listing.Bytes += fi.Size()
	}
	return listing, nil
}

type session struct {
	client      *sftp.Client
	ssh         *ssh.Client
	addr        string
	dir         string
	fingerprint string
	stop        func() bool
}

func (s *session) close() {
	s.stop()
	_ = s.client.Close()
	_ = s.ssh.Close()
}

// open dials, authenticates and starts the sftp subsystem. Errors are phrased
// for display; they never contain the password.
func (h *Handler) open(ctx context.Context, fields map[string]string) (*session, error) {
	addr, err := h.address(fields)
	if err != nil {
		return nil, err
	}
	user := fields["sftp_username"]
	if user == "" {
		return nil, errors.New(`credential field "sftp_username" is not set`)
	}
	password := fields["sftp_password"]

	check, err := h.checkHostKey(fields["host_key"])
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(h.timeout)
	}
	d := &net.Dialer{Timeout: h.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })

	cfg := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: check.callback,
		Timeout:         h.timeout,
	}

	// NewClientConn closes conn on failure.
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		stop()
		switch {
		case check.mismatch:
			return nil, fmt.Errorf("host key mismatch for %s: server presented %s", addr, check.presented)
		case check.presented != "":
			return nil, fmt.Errorf("login failed for %s: %w", user, err)
		default:
			return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
		}
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		stop()
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp subsystem unavailable on %s: %w", addr, err)
	}

	s := &session{
		client:      client,
		ssh:         sshClient,
		addr:        addr,
		fingerprint: check.presented,
		stop:        stop,
	}

	dir := strings.TrimSpace(fields["sftp_path"])
	if dir == "" {
		dir = h.catalogPath
	}
	if !path.IsAbs(dir) {
		if wd, err := client.Getwd(); err == nil {
			dir = path.Join(wd, dir)
		}
	}
	s.dir = dir
	return s, nil
}

type hostKeyCheck struct {
	callback  ssh.HostKeyCallback
	presented string
	mismatch  bool
}

// checkHostKey pins the server key when the credential carries one in
// authorized_keys format. Without a pinned key any key is accepted and a
// warning is logged; the presented fingerprint is reported so it can be
// pinned afterwards. Only connection tests reach here unpinned.
func (h *Handler) checkHostKey(pinned string) (*hostKeyCheck, error) {
	hk := &hostKeyCheck{}

	var verify ssh.HostKeyCallback
	if pinned = strings.TrimSpace(pinned); pinned != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pinned))
		if err != nil {
			return nil, fmt.Errorf("host_key is not a valid public key: %w", err)
		}
		verify = ssh.FixedHostKey(key)
	}

	hk.callback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		hk.presented = ssh.FingerprintSHA256(key)
		if verify == nil {
			h.logger.Warn("sftp host key not pinned, accepting presented key",
				"host", hostname, "fingerprint", hk.presented)
			return nil
		}
		if err := verify(hostname, remote, key); err != nil {
			hk.mismatch = true
			return err
		}
		return nil
	}
	return hk, nil
}

func (h *Handler) address(fields map[string]string) (string, error) {
	server := strings.TrimSpace(fields["sftp_host"])
	if server == "" {
		return "", errors.New(`credential field "sftp_host" is not set`)
	}
	if i := strings.Index(server, "://"); i >= 0 {
		server = server[i+3:]
	}
	server, _, _ = strings.Cut(server, "/")

	host, port := server, ""
	if hp, pp, err := net.SplitHostPort(server); err == nil {
		host, port = hp, pp
	}
	if p := strings.TrimSpace(fields["sftp_port"]); p != "" {
		port = p
	}
	if port == "" {
		port = h.port
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("sftp port: invalid port %q", port)
	}
	if host == "" {
		return "", fmt.Errorf("sftp host %q has no host name", fields["sftp_host"])
	}
	return net.JoinHostPort(host, port), nil
}

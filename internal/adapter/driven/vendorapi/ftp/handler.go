// Package ftp implements the vendor handler for distributors that publish
// inventory and catalog files on a plain FTP server.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// Kind is the handler kind named in the vendor catalog.
const Kind = "ftp"

const defaultPort = "21"

// Compile-time interface satisfaction checks.
var (
	_ driven.VendorHandler  = (*Handler)(nil)
	_ driven.CatalogFetcher = (*Handler)(nil)
)

// Config holds settings shared by every FTP handler.
type Config struct {
	// Timeout bounds a whole session when the caller's context has no
	// deadline. Zero means 30 seconds.
	Timeout time.Duration
}

// Handler logs in to one vendor's FTP server.
type Handler struct {
	vendorID    string
	port        string
	catalogPath string
	timeout     time.Duration
}

// NewFactory returns a HandlerFactory building FTP handlers with cfg.
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
	if _, err := parsePort(port); err != nil {
		return nil, fmt.Errorf("vendor %q port option: %w", def.ID, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Handler{
		vendorID:    def.ID,
		port:        port,
		catalogPath: def.Options["catalog_path"],
		timeout:     timeout,
	}, nil
}

// TestConnection logs in, enters the configured directory and logs out.
func (h *Handler) TestConnection(ctx context.Context, fields map[string]string) model.ConnectionResult {
	c, err := h.connect(ctx, fields)
	if err != nil {
		return model.ConnectionResult{Message: err.Error()}
	}
	defer c.close()

	return model.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("connected to %s as %s (directory %s)", c.addr, fields["ftp_username"], c.dir),
	}
}

// FetchCatalog lists the configured directory. Folders carry a trailing
// slash; Bytes is the total size of the listed files.
func (h *Handler) FetchCatalog(ctx context.Context, fields map[string]string) (model.CatalogListing, error) {
	c, err := h.connect(ctx, fields)
	if err != nil {
		return model.CatalogListing{}, err
	}
	defer c.close()

	list, err := c.conn.List("")
	if err != nil {
		return model.CatalogListing{}, fmt.Errorf("list %s on %s: %w", c.dir, c.addr, err)
	}

	listing := model.CatalogListing{
		Source:    "ftp://" + c.addr + c.dir,
		Entries:   make([]string, 0, len(list)),
		FetchedAt: time.Now().UTC(),
	}
	for _, e := range list {
		switch {
		case e.Name == "." || e.Name == "..":
			continue
		case e.Type == ftp.EntryTypeFolder:
			listing.Entries = append(listing.Entries, e.Name+"/")
		default:
			listing.Entries = append(listing.Entries, e.Name)
			listing.Bytes += int64(e.Size)
		}
	}
	return listing, nil
}

type client struct {
	conn *ftp.ServerConn
	addr string
	dir  string
	stop func() bool
}

func (c *client) close() {
	c.stop()
	_ = c.conn.Quit()
}

// connect dials, logs in and changes to the catalog directory. Errors are
// phrased for display; they never contain the password.
func (h *Handler) connect(ctx context.Context, fields map[string]string) (*client, error) {
	host, port, err := h.address(fields)
	if err != nil {
		return nil, err
	}
	user := fields["ftp_username"]
	if user == "" {
		return nil, errors.New("credential field \"ftp_username\" is not set")
	}
	addr := net.JoinHostPort(host, port)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(h.timeout)
	}
	sess := &session{deadline: deadline}
	stop := context.AfterFunc(ctx, sess.abort)

	conn, err := ftp.Dial(addr,
		ftp.DialWithDialFunc(sess.dialer(ctx, h.timeout)),
		ftp.DialWithShutTimeout(h.timeout),
	)
	if err != nil {
		stop()
		return nil, fmt.Errorf("could not connect to %s: %w", addr, contextErr(ctx, err))
	}
	c := &client{conn: conn, addr: addr, dir: "/", stop: stop}

	if err := conn.Login(user, fields["ftp_password"]); err != nil {
		c.close()
		return nil, fmt.Errorf("login failed for %s: %w", user, contextErr(ctx, err))
	}

	dir := strings.TrimSpace(fields["ftp_path"])
	if dir == "" {
		dir = h.catalogPath
	}
	if dir != "" {
		if err := conn.ChangeDir(dir); err != nil {
			c.close()
			return nil, fmt.Errorf("directory %q is not accessible: %w", dir, contextErr(ctx, err))
		}
	}
	if cwd, err := conn.CurrentDir(); err == nil {
		c.dir = cwd
	} else if dir != "" {
		c.dir = dir
	}
	return c, nil
}

// address resolves the server field, which may carry a scheme, a port or a
// trailing path, against the port field and the vendor default.
func (h *Handler) address(fields map[string]string) (string, string, error) {
	server := strings.TrimSpace(fields["ftp_server"])
	if server == "" {
		return "", "", errors.New("credential field \"ftp_server\" is not set")
	}
	if i := strings.Index(server, "://"); i >= 0 {
		server = server[i+3:]
	}
	server, _, _ = strings.Cut(server, "/")

	host, port := server, ""
	if hp, pp, err := net.SplitHostPort(server); err == nil {
		host, port = hp, pp
	}
	if p := strings.TrimSpace(fields["ftp_port"]); p != "" {
		port = p
	}
	if port == "" {
		port = h.port
	}
	if _, err := parsePort(port); err != nil {
		return "", "", fmt.Errorf("ftp port: %w", err)
	}
	if host == "" {
		return "", "", fmt.Errorf("ftp server %q has no host", fields["ftp_server"])
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

// contextErr prefers the context's error when the session was cut short by
// cancellation, since the network error is then just a deadline artifact.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// session tracks the control and data connections of one login so that
// context cancellation can unblock whichever is in use.
type session struct {
	mu       sync.Mutex
	deadline time.Time
	conns    []net.Conn
}

func (s *session) dialer(ctx context.Context, timeout time.Duration) func(network, address string) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return func(network, address string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = conn.SetDeadline(s.deadline)
		s.conns = append(s.conns, conn)
		return conn, nil
	}
}

func (s *session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = time.Unix(1, 0)
	for _, c := range s.conns {
		_ = c.SetDeadline(s.deadline)
	}
}

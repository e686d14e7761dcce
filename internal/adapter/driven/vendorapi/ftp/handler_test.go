package ftp

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

// fakeServer speaks just enough FTP for login, CWD, PWD and an EPSV LIST.
type fakeServer struct {
	ln   net.Listener
	user string
	pass string
	dirs map[string][]string
	mute bool
}

func newFakeServer(t *testing.T, mute bool) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		ln:   ln,
		user: "dealer",
		pass: "s3cret",
		mute: mute,
		dirs: map[string][]string{
			"/": {
				"drwxr-xr-x    2 ftp      ftp          4096 Jan 02 10:00 feeds",
			},
			"/feeds": {
				"-rw-r--r--    1 ftp      ftp          1024 Jan 02 10:00 inventory.csv",
				"-rw-r--r--    1 ftp      ftp           512 Jan 02 10:00 pricing.csv",
				"drwxr-xr-x    2 ftp      ftp          4096 Jan 02 10:00 archive",
			},
		},
	}
	t.Cleanup(func() { _ = ln.Close() })
	go s.accept()
	return s
}

func (s *fakeServer) port() string {
	return strconv.Itoa(s.ln.Addr().(*net.TCPAddr).Port)
}

func (s *fakeServer) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	if s.mute {
		_, _ = conn.Read(make([]byte, 1))
		return
	}

	tp := textproto.NewConn(conn)
	reply := func(format string, args ...any) { _ = tp.PrintfLine(format, args...) }

	reply("220 fake ready")
	cwd, user := "/", ""
	var data net.Listener
	defer func() {
		if data != nil {
			_ = data.Close()
		}
	}()

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(cmd) {
		case "USER":
			user = arg
			reply("331 password required")
		case "PASS":
			if user == s.user && arg == s.pass {
				reply("230 logged in")
			} else {
				reply("530 Login incorrect.")
			}
		case "TYPE":
			reply("200 type set")
		case "CWD":
			target := arg
			if !path.IsAbs(target) {
				target = path.Join(cwd, target)
			}
			if _, ok := s.dirs[target]; !ok {
				reply("550 %s: No such directory.", arg)
				continue
			}
			cwd = target
			reply("250 directory changed")
		case "PWD":
			reply(`257 "%s" is the current directory`, cwd)
		case "EPSV":
			if data, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
				reply("425 cannot open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "LIST":
			reply("150 here comes the listing")
			dc, err := data.Accept()
			if err != nil {
				return
			}
			_, _ = fmt.Fprint(dc, strings.Join(s.dirs[cwd], "\r\n")+"\r\n")
			_ = dc.Close()
			_ = data.Close()
			data = nil
			reply("226 transfer complete")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 command not implemented")
		}
	}
}

func newHandler(t *testing.T, opts map[string]string) *Handler {
	t.Helper()
	h, err := New(model.VendorDefinition{ID: "bill-hicks", Handler: Kind, Options: opts}, Config{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return h
}

func (s *fakeServer) fields() map[string]string {
	return map[string]string{
		"ftp_server":   "127.0.0.1",
		"ftp_port":     s.port(),
		"ftp_username": s.user,
		"ftp_password": s.pass,
	}
}

func TestTestConnection_Success(t *testing.T) {
	srv := newFakeServer(t, false)
	h := newHandler(t, map[string]string{"catalog_path": "/feeds"})

	got := h.TestConnection(context.Background(), srv.fields())
	assert.True(t, got.Success, got.Message)
	assert.Equal(t, "connected to 127.0.0.1:"+srv.port()+" as dealer (directory /feeds)", got.Message)
}

func TestTestConnection_PathFieldOverridesOption(t *testing.T) {
	srv := newFakeServer(t, false)
	h := newHandler(t, map[string]string{"catalog_path": "/feeds"})

	fields := srv.fields()
	fields["ftp_path"] = "/"
	got := h.TestConnection(context.Background(), fields)
	assert.True(t, got.Success, got.Message)
	assert.Contains(t, got.Message, "(directory /)")
}

func TestTestConnection_BadPassword(t *testing.T) {
	srv := newFakeServer(t, false)
	h := newHandler(t, nil)

	fields := srv.fields()
	fields["ftp_password"] = "wrong-password"
	got := h.TestConnection(context.Background(), fields)
	assert.False(t, got.Success)
	assert.Contains(t, got.Message, "login failed for dealer")
	assert.Contains(t, got.Message, "530")
	assert.NotContains(t, got.Message, "wrong-password")
}

func TestTestConnection_MissingDirectory(t *testing.T) {
	srv := newFakeServer(t, false)
	h := newHandler(t, nil)

	fields := srv.fields()
	fields["ftp_path"] = "/nope"
	got := h.TestConnection(context.Background(), fields)
	assert.False(t, got.Success)
	assert.Contains(t, got.Message, `directory "/nope" is not accessible`)
}

func TestTestConnection_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	h := newHandler(t, nil)
	got := h.TestConnection(context.Background(), map[string]string{
		"ftp_server": "127.0.0.1", "ftp_port": port, "ftp_username": "u", "ftp_password": "p",
	})
	assert.False(t, got.Success)
	assert.Contains(t, got.Message, "could not connect to 127.0.0.1:"+port)
}

func TestTestConnection_HonoursContextDeadline(t *testing.T) {
	srv := newFakeServer(t, true)
	h := newHandler(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := h.TestConnection(ctx, srv.fields())
	assert.False(t, got.Success)
	assert.Contains(t, got.Message, "could not connect")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestTestConnection_MissingFields(t *testing.T) {
	h := newHandler(t, nil)

	got := h.TestConnection(context.Background(), map[string]string{"ftp_username": "u"})
	assert.False(t, got.Success)
	assert.Contains(t, got.Message, `"ftp_server"`)

	got = h.TestConnection(context.Background(), map[string]string{"ftp_server": "ftp.example.com"})
	assert.False(t, got.Success)
	assert.Contains(t, got.Message, `"ftp_username"`)
}

func TestFetchCatalog(t *testing.T) {
	srv := newFakeServer(t, false)
	h := newHandler(t, map[string]string{"catalog_path": "/feeds"})

	got, err := h.FetchCatalog(context.Background(), srv.fields())
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory.csv", "pricing.csv", "archive/"}, got.Entries)
	assert.Equal(t, int64(1536), got.Bytes)
	assert.Equal(t, "ftp://127.0.0.1:"+srv.port()+"/feeds", got.Source)
	assert.False(t, got.FetchedAt.IsZero())
}

func TestFetchCatalog_LoginFailure(t *testing.T) {
	srv := newFakeServer(t, false)
	h := newHandler(t, nil)

	fields := srv.fields()
	fields["ftp_username"] = "intruder"
	_, err := h.FetchCatalog(context.Background(), fields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestAddress(t *testing.T) {
	h := newHandler(t, map[string]string{"port": "2121"})

	tests := []struct {
		name     string
		fields   map[string]string
		wantHost string
		wantPort string
		wantErr  bool
	}{
		{name: "plain host uses vendor port", fields: map[string]string{"ftp_server": "ftp.example.com"}, wantHost: "ftp.example.com", wantPort: "2121"},
		{name: "url with path", fields: map[string]string{"ftp_server": "ftp://ftp.example.com/feeds/"}, wantHost: "ftp.example.com", wantPort: "2121"},
		{name: "host with port", fields: map[string]string{"ftp_server": "ftp.example.com:990"}, wantHost: "ftp.example.com", wantPort: "990"},
		{name: "port field wins", fields: map[string]string{"ftp_server": "ftp.example.com:990", "ftp_port": "21"}, wantHost: "ftp.example.com", wantPort: "21"},
		{name: "bad port", fields: map[string]string{"ftp_server": "ftp.example.com", "ftp_port": "ninety"}, wantErr: true},
		{name: "no host", fields: map[string]string{"ftp_server": "ftp://"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := h.address(tt.fields)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestNew_RejectsBadPortOption(t *testing.T) {
	_, err := New(model.VendorDefinition{ID: "x", Options: map[string]string{"port": "0"}}, Config{})
	assert.Error(t, err)
}

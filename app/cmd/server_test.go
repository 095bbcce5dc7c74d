package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/umputun/pubd/app/notify"
)

func TestServerApp(t *testing.T) {
	port := chooseRandomUnusedPort()
	app, ctx, cancel := prepServerApp(t, func(o ServerCommand) ServerCommand {
		o.Port = port
		return o
	})

	go func() { _ = app.run(ctx) }()
	waitForHTTPServerStart(port)

	// send ping
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/ping", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	// authorize a client
	client := http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err = client.Get(fmt.Sprintf(
		"http://localhost:%d/auth?client_id=https://client.example/app&redirect_uri=https://app.example/cb&state=1", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	assert.NotEmpty(t, code)

	// exchange the code for a token
	form := url.Values{"client_id": {"https://client.example/app"}, "code": {code}, "me": {"https://me.example/"}}
	resp, err = client.PostForm(fmt.Sprintf("http://localhost:%d/token", port), form)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	app.Wait()
	client.CloseIdleConnections()
}

func TestServerApp_WithSSL(t *testing.T) {
	opts := ServerCommand{}
	sslPort := chooseRandomUnusedPort()
	opts.SetCommon(CommonOpts{PubURL: fmt.Sprintf("https://localhost:%d", sslPort), Revision: "test"})

	// prepare options
	p := flags.NewParser(&opts, flags.Default)
	port := chooseRandomUnusedPort()
	tmp := t.TempDir()
	_, err := p.ParseArgs([]string{"--port=" + strconv.Itoa(port),
		"--store.fs.path=" + tmp, "--media.fs.path=" + filepath.Join(tmp, "media"),
		"--posts.path=" + filepath.Join(tmp, "posts"), "--notify.type=none",
		"--ssl.type=static", "--ssl.cert=testdata/cert.pem", "--ssl.key=testdata/key.pem",
		"--ssl.port=" + strconv.Itoa(sslPort)})
	require.NoError(t, err)

	// create app
	app, err := opts.newServerApp()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = app.run(ctx) }()
	waitForHTTPSServerStart(sslPort)

	client := http.Client{
		// prevent http redirect
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},

		// allow self-signed certificate
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	// check http to https redirect response
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/blah?param=1", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 307, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("https://localhost:%d/blah?param=1", sslPort), resp.Header.Get("Location"))

	// check https server
	resp, err = client.Get(fmt.Sprintf("https://localhost:%d/ping", sslPort))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	cancel()
	app.Wait()
	client.CloseIdleConnections()
}

func TestServerApp_Failed(t *testing.T) {
	opts := ServerCommand{}
	opts.SetCommon(CommonOpts{PubURL: "https://demo.example.com", Revision: "test"})

	// RO bolt location
	p := flags.NewParser(&opts, flags.Default)
	_, err := p.ParseArgs([]string{"--store.type=bolt", "--store.bolt.path=/dev/null"})
	assert.NoError(t, err)
	_, err = opts.newServerApp()
	assert.EqualError(t, err, "failed to make authorization store engine: failed to create bolt store: "+
		"can't make directory /dev/null: mkdir /dev/null: not a directory")
	t.Log(err)

	// invalid url
	opts = ServerCommand{}
	opts.SetCommon(CommonOpts{PubURL: "demo.example.com", Revision: "test"})
	p = flags.NewParser(&opts, flags.Default)
	_, err = p.ParseArgs([]string{})
	assert.NoError(t, err)
	_, err = opts.newServerApp()
	assert.EqualError(t, err, "invalid pubd url demo.example.com")
	t.Log(err)

	// unsupported store type rejected by flags parser
	opts = ServerCommand{}
	opts.SetCommon(CommonOpts{PubURL: "https://demo.example.com", Revision: "test"})
	p = flags.NewParser(&opts, flags.Default)
	_, err = p.ParseArgs([]string{"--store.type=blah"})
	assert.Error(t, err, "blah is invalid type")

	opts.Store.Type = "blah"
	_, err = opts.newServerApp()
	assert.EqualError(t, err, "failed to make authorization store engine: unsupported store type blah")
	t.Log(err)
}

func TestServerApp_NotifyFailed(t *testing.T) {
	opts := ServerCommand{}
	opts.SetCommon(CommonOpts{PubURL: "https://demo.example.com", Revision: "test"})

	p := flags.NewParser(&opts, flags.Default)
	tmp := t.TempDir()
	// webhook destination without url can't be created
	_, err := p.ParseArgs([]string{"--store.fs.path=" + tmp, "--media.fs.path=" + filepath.Join(tmp, "media"),
		"--posts.path=" + filepath.Join(tmp, "posts"), "--notify.type=webhook"})
	require.NoError(t, err)

	app, err := opts.newServerApp()
	require.NoError(t, err, "broken notify config doesn't prevent the start")
	assert.Equal(t, notify.NopService, app.notifyService, "notifications disabled")
}

func TestServerApp_Shutdown(t *testing.T) {
	app, ctx, cancel := prepServerApp(t, func(o ServerCommand) ServerCommand {
		o.Port = chooseRandomUnusedPort()
		return o
	})
	time.AfterFunc(100*time.Millisecond, func() {
		cancel()
	})
	st := time.Now()
	err := app.run(ctx)
	assert.NoError(t, err)
	assert.True(t, time.Since(st).Seconds() < 1, "should take about 100msec")
	app.Wait()
}

func TestServerApp_MainSignal(t *testing.T) {
	done := make(chan struct{})
	go func() {
		<-done
		time.Sleep(250 * time.Millisecond)
		err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		require.NoError(t, err)
	}()

	s := ServerCommand{}
	s.SetCommon(CommonOpts{PubURL: "https://demo.example.com", Revision: "test"})

	p := flags.NewParser(&s, flags.Default)
	port := chooseRandomUnusedPort()
	tmp := t.TempDir()
	args := []string{"--store.fs.path=" + tmp, "--media.fs.path=" + filepath.Join(tmp, "media"),
		"--posts.path=" + filepath.Join(tmp, "posts"), "--notify.type=none", "--port=" + strconv.Itoa(port)}
	_, err := p.ParseArgs(args)
	require.NoError(t, err)
	st := time.Now()
	close(done)
	err = s.Execute(args)
	assert.NoError(t, err, "execute should be without errors")
	assert.True(t, time.Since(st).Seconds() < 5, "should take under five sec", time.Since(st).Seconds())
}

func Test_ACMEEmail(t *testing.T) {
	cmd := ServerCommand{}
	cmd.SetCommon(CommonOpts{PubURL: "https://pub.example.com:443", Revision: "test"})
	p := flags.NewParser(&cmd, flags.Default)
	args := []string{"--ssl.type=auto"}
	_, err := p.ParseArgs(args)
	require.NoError(t, err)
	cfg, err := cmd.makeSSLConfig()
	require.NoError(t, err)
	assert.Equal(t, "admin@pub.example.com", cfg.ACMEEmail)

	cmd = ServerCommand{}
	cmd.SetCommon(CommonOpts{PubURL: "https://pub.example.com", Revision: "test"})
	p = flags.NewParser(&cmd, flags.Default)
	args = []string{"--ssl.type=auto", "--ssl.acme-email=adminname@adminhost.com"}
	_, err = p.ParseArgs(args)
	require.NoError(t, err)
	cfg, err = cmd.makeSSLConfig()
	require.NoError(t, err)
	assert.Equal(t, "adminname@adminhost.com", cfg.ACMEEmail)
}

func chooseRandomUnusedPort() (port int) {
	for i := 0; i < 10; i++ {
		port = 40000 + int(rand.Int31n(10000))
		if ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port)); err == nil {
			_ = ln.Close()
			break
		}
	}
	return port
}

func waitForHTTPServerStart(port int) {
	// wait for up to 3 seconds for server to start before returning it
	client := http.Client{Timeout: time.Second}
	for i := 0; i < 300; i++ {
		time.Sleep(time.Millisecond * 10)
		if resp, err := client.Get(fmt.Sprintf("http://localhost:%d", port)); err == nil {
			_ = resp.Body.Close()
			return
		}
	}
}

func waitForHTTPSServerStart(port int) {
	// wait for up to 3 seconds for HTTPS server to start
	for i := 0; i < 300; i++ {
		time.Sleep(time.Millisecond * 10)
		conn, _ := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), time.Millisecond*10)
		if conn != nil {
			_ = conn.Close()
			break
		}
	}
}

func prepServerApp(t *testing.T, fn func(o ServerCommand) ServerCommand) (*serverApp, context.Context, context.CancelFunc) {
	cmd := ServerCommand{}
	cmd.SetCommon(CommonOpts{PubURL: "https://demo.example.com", Revision: "test"})

	// prepare options
	p := flags.NewParser(&cmd, flags.Default)
	_, err := p.ParseArgs([]string{"--notify.type=none"})
	require.NoError(t, err)
	tmp := t.TempDir()
	cmd.Store.Type, cmd.Store.FS.Path = "fs", tmp
	cmd.Media.FS.Path = filepath.Join(tmp, "media")
	cmd.Posts.Path = filepath.Join(tmp, "posts")
	cmd = fn(cmd)

	// create app
	app, err := cmd.newServerApp()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	return app, ctx, cancel
}

func TestMain(m *testing.M) {
	// ignore is added only for CI, can't reproduce locally
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*Server).Shutdown"))
}

package notify

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nicedentist/auth-service/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// serveInMemory starts a fasthttp server on an in-memory listener and points
// n's client at it.
func serveInMemory(t *testing.T, n *WelcomeNotifier, handler fasthttp.RequestHandler) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})
	n.client.Dial = func(string) (net.Conn, error) { return ln.Dial() }
}

func newTestNotifier(t *testing.T) *WelcomeNotifier {
	t.Helper()
	n, err := NewWelcomeNotifier(Config{
		TemplateURL: "http://templates.local/email-templates/customer-welcome.html",
		Timeout:     time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWelcomeNotifier: %v", err)
	}
	return n
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewWelcomeNotifier_RequiresTemplate(t *testing.T) {
	if _, err := NewWelcomeNotifier(Config{}, zerolog.Nop()); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}
}

func TestWelcomeNotifier_BuildRequestEscapesQuery(t *testing.T) {
	n := newTestNotifier(t)
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	n.buildRequest(req, ports.WelcomeMessage{Name: "Ana María", Email: "ana+1@example.com", TempPassword: "Ab3dE6gH"})

	parsed, err := url.Parse(req.URI().String())
	if err != nil {
		t.Fatalf("parse built url: %v", err)
	}
	if parsed.Path != "/email-templates/customer-welcome.html" {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
	q := parsed.Query()
	if q.Get("name") != "Ana María" || q.Get("email") != "ana+1@example.com" || q.Get("password") != "Ab3dE6gH" {
		t.Fatalf("unexpected query %v", q)
	}
	if string(req.Header.Method()) != fasthttp.MethodGet {
		t.Fatalf("expected GET, got %s", req.Header.Method())
	}
}

func TestWelcomeNotifier_SendWelcome(t *testing.T) {
	n := newTestNotifier(t)
	got := make(chan string, 1)
	serveInMemory(t, n, func(ctx *fasthttp.RequestCtx) {
		got <- string(ctx.QueryArgs().Peek("email"))
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	err := n.SendWelcome(context.Background(), ports.WelcomeMessage{Name: "Ana", Email: "ana@example.com", TempPassword: "x"})
	if err != nil {
		t.Fatalf("SendWelcome: %v", err)
	}
	if email := <-got; email != "ana@example.com" {
		t.Fatalf("server saw email %q", email)
	}
}

func TestWelcomeNotifier_SendWelcomeRejectsErrorStatus(t *testing.T) {
	n := newTestNotifier(t)
	serveInMemory(t, n, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})

	if err := n.SendWelcome(context.Background(), ports.WelcomeMessage{Email: "ana@example.com"}); err == nil {
		t.Fatalf("expected error on 404")
	}
}

func TestWelcomeNotifier_SendWelcomeHonoursCancelledContext(t *testing.T) {
	n := newTestNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.SendWelcome(ctx, ports.WelcomeMessage{Email: "ana@example.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// Package notify delivers the welcome message sent to newly provisioned
// customers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/nicedentist/auth-service/internal/core/ports"
)

const defaultTimeout = 5 * time.Second

var ErrNoTemplate = errors.New("notify: welcome template url is empty")

// Config points the notifier at the welcome template endpoint.
type Config struct {
	TemplateURL string
	Timeout     time.Duration
}

// WelcomeNotifier renders the customer welcome template by requesting it with
// the account details as query parameters.
type WelcomeNotifier struct {
	template string
	timeout  time.Duration
	client   *fasthttp.Client
	log      zerolog.Logger
}

var _ ports.WelcomeNotifier = (*WelcomeNotifier)(nil)

func NewWelcomeNotifier(cfg Config, log zerolog.Logger) (*WelcomeNotifier, error) {
	if cfg.TemplateURL == "" {
		return nil, ErrNoTemplate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	uri := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(uri)
	if err := uri.Parse(nil, []byte(cfg.TemplateURL)); err != nil {
		return nil, fmt.Errorf("notify: parse template url: %w", err)
	}

	return &WelcomeNotifier{
		template: cfg.TemplateURL,
		timeout:  cfg.Timeout,
		client: &fasthttp.Client{
			Name:         "nicedentist-auth",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		log: log.With().Str("component", "welcome_notifier").Logger(),
	}, nil
}

// SendWelcome requests the template with name, email and password set on the
// query string. Any non-2xx answer is an error.
func (n *WelcomeNotifier) SendWelcome(ctx context.Context, msg ports.WelcomeMessage) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	n.buildRequest(req, msg)

	deadline := time.Now().Add(n.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := n.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("welcome request: %w", err)
	}
	if code := resp.StatusCode(); code < fasthttp.StatusOK || code >= fasthttp.StatusMultipleChoices {
		return fmt.Errorf("welcome request: unexpected status %d", code)
	}

	n.log.Debug().Str("email", msg.Email).Msg("welcome template rendered")
	return nil
}

func (n *WelcomeNotifier) buildRequest(req *fasthttp.Request, msg ports.WelcomeMessage) {
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(n.template)
	args := req.URI().QueryArgs()
	args.Set("name", msg.Name)
	args.Set("email", msg.Email)
	args.Set("password", msg.TempPassword)
}

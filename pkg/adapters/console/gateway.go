// Package console renders outbound messages on a terminal. It backs
// 'tendril run' and local flow development.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/muesli/termenv"
)

// Gateway implements ports.MessagingGateway by printing to a writer.
type Gateway struct {
	mu       sync.Mutex
	out      *termenv.Output
	markdown func(string) (string, error)
	seq      int
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	profile  *termenv.Profile
	markdown func(string) (string, error)
}

// WithProfile forces a color profile. termenv.Ascii disables styling.
func WithProfile(p termenv.Profile) Option {
	return func(o *options) {
		o.profile = &p
	}
}

// WithMarkdown renders the text of text messages through render. The raw
// text is printed when render fails.
func WithMarkdown(render func(string) (string, error)) Option {
	return func(o *options) {
		o.markdown = render
	}
}

// NewGateway creates a console gateway writing to w.
func NewGateway(w io.Writer, opts ...Option) *Gateway {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var outOpts []termenv.OutputOption
	if o.profile != nil {
		outOpts = append(outOpts, termenv.WithProfile(*o.profile))
	}
	return &Gateway{out: termenv.NewOutput(w, outOpts...), markdown: o.markdown}
}

// Send prints msg. The access token and recipient are ignored.
func (g *Gateway) Send(ctx context.Context, accessToken, recipientID string, msg domain.OutboundMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	if _, err := fmt.Fprintln(g.out, g.render(msg)); err != nil {
		return "", err
	}
	return fmt.Sprintf("console.%d", g.seq), nil
}

func (g *Gateway) render(msg domain.OutboundMessage) string {
	bot := g.out.String("bot>").Foreground(g.out.Color("#a78bfa")).Bold().String()
	var b strings.Builder

	switch msg.Kind {
	case domain.KindMedia:
		if msg.Attachment != nil {
			fmt.Fprintf(&b, "%s [%s] %s", bot, msg.Attachment.Type, msg.Attachment.URL)
			if msg.Attachment.Caption != "" {
				fmt.Fprintf(&b, " (%s)", msg.Attachment.Caption)
			}
		}
	case domain.KindGeneric:
		fmt.Fprintf(&b, "%s", bot)
		for _, el := range msg.Elements {
			fmt.Fprintf(&b, "\n  * %s", g.out.String(el.Title).Bold())
			if el.Subtitle != "" {
				fmt.Fprintf(&b, " - %s", el.Subtitle)
			}
			for _, btn := range el.Buttons {
				fmt.Fprintf(&b, "\n    %s", g.button(btn))
			}
		}
	default:
		fmt.Fprintf(&b, "%s %s", bot, g.text(msg.Text))
		for _, btn := range msg.Buttons {
			fmt.Fprintf(&b, "\n  %s", g.button(btn))
		}
		for i, qr := range msg.QuickReplies {
			fmt.Fprintf(&b, "\n  (%d) %s", i+1, g.out.String(qr.Title).Foreground(g.out.Color("#f472b6")))
		}
	}
	return b.String()
}

func (g *Gateway) text(s string) string {
	if g.markdown == nil || s == "" {
		return s
	}
	out, err := g.markdown(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(out)
}

func (g *Gateway) button(btn domain.Button) string {
	label := g.out.String("[" + btn.Title + "]").Foreground(g.out.Color("#818cf8")).String()
	if btn.Type == domain.ButtonURL {
		return label + " " + btn.URL
	}
	return label
}

package console_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/tendril/pkg/adapters/console"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_RendersPlainText(t *testing.T) {
	var buf bytes.Buffer
	gw := console.NewGateway(&buf, console.WithProfile(termenv.Ascii))

	id, err := gw.Send(context.Background(), "", "user", domain.NewTextMessage("Hello",
		domain.QuickReply{Title: "Yes"}, domain.QuickReply{Title: "No"}))
	require.NoError(t, err)
	assert.Equal(t, "console.1", id)
	assert.Equal(t, "bot> Hello\n  (1) Yes\n  (2) No\n", buf.String())
}

func TestGateway_RendersTemplates(t *testing.T) {
	var buf bytes.Buffer
	gw := console.NewGateway(&buf, console.WithProfile(termenv.Ascii))
	ctx := context.Background()

	_, err := gw.Send(ctx, "", "u", domain.NewButtonMessage("Menu",
		domain.Button{Type: domain.ButtonURL, Title: "Docs", URL: "https://x"}))
	require.NoError(t, err)
	_, err = gw.Send(ctx, "", "u", domain.NewGenericMessage(domain.Element{Title: "Mug", Subtitle: "USD 9.00"}))
	require.NoError(t, err)
	_, err = gw.Send(ctx, "", "u", domain.NewMediaMessage(domain.NodeTypeImage, "https://img", ""))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[Docs] https://x")
	assert.Contains(t, out, "* Mug - USD 9.00")
	assert.Contains(t, out, "bot> [image] https://img")
}

func TestGateway_Markdown(t *testing.T) {
	var buf bytes.Buffer
	upper := func(s string) (string, error) { return "\n  " + strings.ToUpper(s) + "\n", nil }
	gw := console.NewGateway(&buf, console.WithProfile(termenv.Ascii), console.WithMarkdown(upper))

	_, err := gw.Send(context.Background(), "", "user", domain.NewTextMessage("hi *there*"))
	require.NoError(t, err)
	assert.Equal(t, "bot> HI *THERE*\n", buf.String())

	buf.Reset()
	failing := console.NewGateway(&buf, console.WithProfile(termenv.Ascii),
		console.WithMarkdown(func(string) (string, error) { return "", errors.New("boom") }))
	_, err = failing.Send(context.Background(), "", "user", domain.NewTextMessage("raw"))
	require.NoError(t, err)
	assert.Equal(t, "bot> raw\n", buf.String())
}

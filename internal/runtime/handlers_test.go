package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_AttachedButtons(t *testing.T) {
	b := dsl.New("menu")
	b.Start("start").Go("menu")
	b.Add("menu").Text("Pick").Attach("docs").Attach("talk").Attach("b3").Attach("b4").Go("after")
	b.Add("docs").Button("Docs", "https://example.com/docs")
	b.Add("talk").Button("Talk", "").Go("agent")
	b.Add("b3").Button("Three", "")
	b.Add("b4").Button("Four", "")
	b.Add("agent").Text("connecting")
	b.Add("after").Text("after menu")
	h := newHarness(t, b.MustBuild())

	_, err := h.start(t, "menu")
	require.NoError(t, err)

	require.Len(t, h.gateway.sent, 2, "attached buttons are not traversed")
	msg := h.gateway.sent[0].Msg
	assert.Equal(t, domain.KindButtons, msg.Kind)
	require.Len(t, msg.Buttons, domain.MaxButtons)
	assert.Equal(t, domain.ButtonURL, msg.Buttons[0].Type)
	assert.Equal(t, "https://example.com/docs", msg.Buttons[0].URL)
	assert.Equal(t, domain.ButtonPostback, msg.Buttons[1].Type)
	assert.Equal(t, "tendril:menu:agent", msg.Buttons[1].Payload)
	assert.Equal(t, "after menu", h.gateway.sent[1].Msg.Text)
}

func TestText_AttachedQuickReplies(t *testing.T) {
	b := dsl.New("qr")
	b.Start("start").Go("ask")
	b.Add("ask").Text("Size?").Attach("s").Attach("m")
	b.Add("s").Reply("Small").Go("small")
	b.Add("m").Reply("Medium")
	b.Add("small").Text("small it is")
	h := newHarness(t, b.MustBuild())

	_, err := h.start(t, "qr")
	require.NoError(t, err)
	require.Len(t, h.gateway.sent, 1)
	msg := h.gateway.sent[0].Msg
	assert.Equal(t, domain.KindText, msg.Kind)
	require.Len(t, msg.QuickReplies, 2)
	assert.Equal(t, "Small", msg.QuickReplies[0].Title)
	assert.Equal(t, "tendril:qr:small", msg.QuickReplies[0].Payload)
	assert.Equal(t, "tendril:qr:", msg.QuickReplies[1].Payload, "no follow-up node")
}

func TestText_QuickReplyLimit(t *testing.T) {
	b := dsl.New("many")
	b.Start("start").Go("ask")
	ask := b.Add("ask").Text("Pick")
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("r%d", i)
		ask.Attach(id)
		b.Add(id).Reply(id)
	}
	h := newHarness(t, b.MustBuild())

	_, err := h.start(t, "many")
	require.NoError(t, err)
	assert.Len(t, h.gateway.sent[0].Msg.QuickReplies, domain.MaxQuickReplies)
	assert.Equal(t, "r0", h.gateway.sent[0].Msg.QuickReplies[0].Title)
	assert.Equal(t, "r12", h.gateway.sent[0].Msg.QuickReplies[12].Title)
}

func TestButtonStep_HaltsWithChoicePayloads(t *testing.T) {
	b := dsl.New("choice")
	b.Start("start").Go("menu")
	b.Add("menu").Buttons("Where to?", "Sales", "Support").Choice(0, "sales").Choice(1, "support")
	b.Add("sales").Text("sales")
	b.Add("support").Text("support")
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "choice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	require.Len(t, h.gateway.sent, 1, "follow-up nodes run only after the user chooses")

	msg := h.gateway.sent[0].Msg
	assert.Equal(t, "Where to?", msg.Text)
	require.Len(t, msg.Buttons, 2)
	assert.Equal(t, "tendril:choice:sales", msg.Buttons[0].Payload)
	assert.Equal(t, "tendril:choice:support", msg.Buttons[1].Payload)
}

func TestQuickReplyStep(t *testing.T) {
	b := dsl.New("qrs")
	b.Start("start").Go("pick")
	b.Add("pick").QuickReplies("Color?", "Red", "Blue").Choice(1, "blue")
	b.Add("blue").Text("blue")
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "qrs")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	msg := h.gateway.sent[0].Msg
	require.Len(t, msg.QuickReplies, 2)
	assert.Equal(t, "tendril:qrs:", msg.QuickReplies[0].Payload)
	assert.Equal(t, "tendril:qrs:blue", msg.QuickReplies[1].Payload)
}

func TestCarousel_BuildsOneGenericTemplate(t *testing.T) {
	b := dsl.New("shop")
	b.Start("start").Go("c")
	b.Add("c").Carousel().Attach("i1").Attach("i2").Attach("empty")
	b.Add("i1").CarouselItem("Mug", "https://img/mug.png", 9.5).Set("currency", "USD").Set("button_title", "Buy").Go("checkout")
	b.Add("i2").CarouselItem("Tee", "https://img/tee.png", 0).Set("button_title", "See").Set("button_url", "https://shop/tee")
	b.Add("empty").CarouselItem("", "", 0)
	b.Add("checkout").Text("checkout")
	h := newHarness(t, b.MustBuild())

	_, err := h.start(t, "shop")
	require.NoError(t, err)
	require.Len(t, h.gateway.sent, 1)
	msg := h.gateway.sent[0].Msg
	assert.Equal(t, domain.KindGeneric, msg.Kind)
	require.Len(t, msg.Elements, 2)
	assert.Equal(t, "USD 9.50", msg.Elements[0].Subtitle)
	assert.Equal(t, "tendril:shop:checkout", msg.Elements[0].Buttons[0].Payload)
	assert.Equal(t, domain.ButtonURL, msg.Elements[1].Buttons[0].Type)
}

func TestCarousel_ItemWithAttachedButtonNode(t *testing.T) {
	b := dsl.New("shop")
	b.Start("start").Go("c")
	b.Add("c").Carousel().Branch("item-0", "i1")
	b.Add("i1").CarouselItem("Mug", "", 9.5).Branch("button-0", "b1")
	b.Add("b1").Button("Buy", "").Go("checkout")
	b.Add("checkout").Text("checkout")
	h := newHarness(t, b.MustBuild())

	_, err := h.start(t, "shop")
	require.NoError(t, err)
	require.Len(t, h.gateway.sent, 1)
	msg := h.gateway.sent[0].Msg
	require.Len(t, msg.Elements, 1)
	el := msg.Elements[0]
	assert.Equal(t, "Mug", el.Title)
	require.Len(t, el.Buttons, 1)
	assert.Equal(t, "Buy", el.Buttons[0].Title)
	assert.Equal(t, "tendril:shop:checkout", el.Buttons[0].Payload)
}

func TestCarousel_WithoutItemsIsSkipped(t *testing.T) {
	b := dsl.New("shop")
	b.Start("start").Go("c")
	b.Add("c").Carousel()
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "shop")
	require.NoError(t, err)
	assert.Empty(t, h.gateway.sent)
	assert.Len(t, h.records(t, exec.ID), 1)
}

func TestProduct_UsesCatalog(t *testing.T) {
	b := dsl.New("p")
	b.Start("start").Go("prod")
	b.Add("prod").Products("p1", "missing", "p2")
	flow := b.MustBuild()

	catalog := memory.NewCatalog(
		domain.Product{ID: "p1", Name: "Mug", Price: 12, Currency: "EUR"},
		domain.Product{ID: "p2", Name: "Tee", URL: "https://shop/tee"},
	)
	h := newHarness(t, flow, runtime.WithProductCatalog(catalog))

	_, err := h.start(t, "p")
	require.NoError(t, err)
	require.Len(t, h.gateway.sent, 1)
	els := h.gateway.sent[0].Msg.Elements
	require.Len(t, els, 2)
	assert.Equal(t, "EUR 12.00", els[0].Subtitle)
	assert.Equal(t, "https://shop/tee", els[1].Buttons[0].URL)
}

func TestProduct_NoIDsIsSkipped(t *testing.T) {
	b := dsl.New("p")
	b.Start("start").Go("prod")
	b.Add("prod").Products()
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "p")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Empty(t, h.gateway.sent)
}

func TestAI_SendsAnswerAndStoresVariable(t *testing.T) {
	b := dsl.New("ai")
	b.Start("start").Go("ask")
	b.Add("ask").Question("Topic?").SaveTo("topic").Go("gen")
	b.Add("gen").AI("Write about {{topic}}").Set("system_prompt", "Be brief").SaveTo("answer").Go("echo")
	b.Add("echo").Text("You got: {{answer}}")

	ai := &fakeAI{answer: "Cats purr."}
	h := newHarness(t, b.MustBuild(),
		runtime.WithAIProvider(ai),
		runtime.WithAIConfig(domain.AIConfig{Provider: "openai", Model: "gpt-4o-mini", SystemPrompt: "default"}))

	exec, err := h.start(t, "ai")
	require.NoError(t, err)
	_, err = h.engine.Resume(context.Background(), runtime.ResumeRequest{ExecutionID: exec.ID, Response: "cats"})
	require.NoError(t, err)

	assert.Equal(t, "Write about cats", ai.prompt)
	assert.Equal(t, "Be brief", ai.cfg.SystemPrompt)
	assert.Equal(t, "gpt-4o-mini", ai.cfg.Model)
	assert.Equal(t, []string{"Topic?", "Cats purr.", "You got: Cats purr."}, h.gateway.texts())
}

func TestAI_Failures(t *testing.T) {
	b := dsl.New("ai")
	b.Start("start").Go("gen")
	b.Add("gen").AI("hello")
	flow := b.MustBuild()

	t.Run("no provider", func(t *testing.T) {
		h := newHarness(t, flow)
		exec, err := h.start(t, "ai")
		assert.ErrorIs(t, err, domain.ErrNoAIProvider)
		assert.Equal(t, domain.StatusFailed, exec.Status)
	})

	t.Run("provider error", func(t *testing.T) {
		providerErr := errors.New("quota exceeded")
		h := newHarness(t, flow, runtime.WithAIProvider(&fakeAI{err: providerErr}))
		_, err := h.start(t, "ai")
		assert.ErrorIs(t, err, providerErr)
		assert.Empty(t, h.gateway.sent)
	})
}

func TestSequence_UsesSleeper(t *testing.T) {
	b := dsl.New("seq")
	b.Start("start").Go("wait")
	b.Add("wait").Delay(1.5).Go("done")
	b.Add("done").Text("done")

	var slept []float64
	h := newHarness(t, b.MustBuild(), runtime.WithSleeper(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d.Seconds())
		return nil
	}))

	_, err := h.start(t, "seq")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, slept)
	assert.Equal(t, []string{"done"}, h.gateway.texts())
}

func TestSequence_ClampsOutOfRangeDelays(t *testing.T) {
	b := dsl.New("seq")
	b.Start("start").Go("huge")
	b.Add("huge").Delay(1e300).Go("negative")
	b.Add("negative").Delay(-5).Go("done")
	b.Add("done").Text("done")

	var slept []time.Duration
	h := newHarness(t, b.MustBuild(), runtime.WithSleeper(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	_, err := h.start(t, "seq")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{math.MaxInt64, 0}, slept)
}

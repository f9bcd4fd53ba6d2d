package tendril

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Runner drives a flow interactively over line-based IO.
// It answers input nodes with the lines it reads, and lets the user pick
// buttons and quick replies by number or title, restarting the flow at the
// chosen node the same way the message router does for chat channels.
type Runner struct {
	Input        io.Reader
	Output       io.Writer
	Headless     bool
	SubscriberID string

	mu      sync.Mutex
	choices []choice
}

type choice struct {
	title   string
	payload string
}

// NewRunner creates a Runner bound to the given IO.
func NewRunner(in io.Reader, out io.Writer) *Runner {
	return &Runner{Input: in, Output: out, SubscriberID: "console"}
}

// Observe wraps a gateway so the runner learns which choices were offered.
// Pass the result to WithGateway.
func (r *Runner) Observe(next ports.MessagingGateway) ports.MessagingGateway {
	return &observedGateway{next: next, runner: r}
}

type observedGateway struct {
	next   ports.MessagingGateway
	runner *Runner
}

func (g *observedGateway) Send(ctx context.Context, token, recipient string, msg domain.OutboundMessage) (string, error) {
	var offered []choice
	for _, b := range msg.Buttons {
		if b.Type == domain.ButtonPostback {
			offered = append(offered, choice{title: b.Title, payload: b.Payload})
		}
	}
	for _, qr := range msg.QuickReplies {
		offered = append(offered, choice{title: qr.Title, payload: qr.Payload})
	}
	for _, el := range msg.Elements {
		for _, b := range el.Buttons {
			if b.Type == domain.ButtonPostback {
				offered = append(offered, choice{title: b.Title, payload: b.Payload})
			}
		}
	}
	g.runner.mu.Lock()
	g.runner.choices = offered
	g.runner.mu.Unlock()
	return g.next.Send(ctx, token, recipient, msg)
}

// Run starts flowID and keeps the conversation going until the flow ends
// without offering choices, or the input reaches EOF.
func (r *Runner) Run(ctx context.Context, engine *Engine, flowID string) error {
	if r.Input == nil || r.Output == nil {
		return fmt.Errorf("runner input and output must be set")
	}
	lines := bufio.NewReader(r.Input)

	exec, err := engine.StartFlow(ctx, StartRequest{FlowID: flowID, SubscriberID: r.SubscriberID, ChannelID: "console"})
	if err != nil {
		return err
	}

	for {
		offered := r.offered()
		if exec.Status != domain.StatusWaitingForInput && len(offered) == 0 {
			break
		}

		if !r.Headless {
			fmt.Fprint(r.Output, "> ")
		}
		text, err := lines.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && text != "") {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}
		text = strings.TrimSpace(text)

		if exec.Status == domain.StatusWaitingForInput {
			exec, err = engine.ResumeFlow(ctx, exec.ID, text)
			if err != nil {
				return err
			}
			continue
		}

		picked, ok := pick(offered, text)
		if !ok {
			fmt.Fprintln(r.Output, "Please choose one of the options.")
			continue
		}
		payload, err := domain.ParseChoicePayload(picked.payload)
		if err != nil || payload.NodeID == "" {
			break
		}
		r.setOffered(nil)
		exec, err = engine.StartFlow(ctx, StartRequest{
			FlowID:       payload.FlowID,
			SubscriberID: r.SubscriberID,
			ChannelID:    "console",
			StartNodeID:  payload.NodeID,
		})
		if err != nil {
			return err
		}
	}

	if !r.Headless {
		fmt.Fprintf(r.Output, "--- execution %s %s ---\n", exec.ID, exec.Status)
	}
	return nil
}

func (r *Runner) offered() []choice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.choices
}

func (r *Runner) setOffered(c []choice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.choices = c
}

// pick matches a 1-based index or a case-insensitive title.
func pick(offered []choice, text string) (choice, bool) {
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(offered) {
		return offered[n-1], true
	}
	for _, c := range offered {
		if strings.EqualFold(c.title, text) {
			return c, true
		}
	}
	return choice{}, false
}

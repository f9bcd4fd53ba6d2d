package runtime

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// handleRich sends one generic template. Cards and carousel items render
// themselves; carousels render their attached items. Nothing to render is
// a silent skip.
func handleRich(ctx context.Context, nc *NodeContext) (Outcome, error) {
	items := []*domain.Node{nc.Node}
	if nc.Node.Type == domain.NodeTypeCarousel {
		items = nc.Graph.Attached(nc.Node.ID, domain.NodeTypeCarouselItem, domain.NodeTypeCard)
	}
	if len(items) > domain.MaxElements {
		items = items[:domain.MaxElements]
	}

	elements := make([]domain.Element, 0, len(items))
	for _, item := range items {
		el, err := nc.element(ctx, item)
		if err != nil {
			return Outcome{}, err
		}
		if el.Title == "" {
			continue
		}
		elements = append(elements, el)
	}
	if len(elements) == 0 {
		nc.engine.logger.DebugContext(ctx, "skipping rich node without elements", "execution_id", nc.Execution.ID, "node_id", nc.Node.ID)
		return Outcome{}, nil
	}
	return Outcome{}, nc.Send(ctx, domain.NewGenericMessage(elements...))
}

// element renders one card-like node: title, image, price subtitle and at
// most one action button.
func (nc *NodeContext) element(ctx context.Context, item *domain.Node) (domain.Element, error) {
	var data domain.CardData
	if err := item.DecodeData(&data); err != nil {
		return domain.Element{}, err
	}
	title, err := nc.Interpolate(ctx, data.Title)
	if err != nil {
		return domain.Element{}, err
	}
	subtitle, err := nc.Interpolate(ctx, data.Subtitle)
	if err != nil {
		return domain.Element{}, err
	}
	el := domain.Element{
		Title:    title,
		Subtitle: priceSubtitle(subtitle, data.Price, data.Currency),
		ImageURL: data.ImageURL,
	}

	switch {
	case data.ButtonTitle != "" && data.ButtonURL != "":
		el.Buttons = []domain.Button{{Type: domain.ButtonURL, Title: data.ButtonTitle, URL: data.ButtonURL}}
	case data.ButtonTitle != "":
		b, err := nc.button(ctx, domain.ButtonOption{Title: data.ButtonTitle}, item.ID, domain.HandleDefault)
		if err != nil {
			return domain.Element{}, err
		}
		el.Buttons = []domain.Button{b}
	default:
		if attached := nc.Graph.Attached(item.ID, domain.NodeTypeButton); len(attached) > 0 {
			buttons, err := attachedButtons(ctx, nc, attached[:1])
			if err != nil {
				return domain.Element{}, err
			}
			el.Buttons = buttons
		}
	}
	return el, nil
}

func priceSubtitle(subtitle string, price float64, currency string) string {
	if price <= 0 {
		return subtitle
	}
	p := strconv.FormatFloat(price, 'f', 2, 64)
	if c := strings.TrimSpace(currency); c != "" {
		p = c + " " + p
	}
	if subtitle == "" {
		return p
	}
	return subtitle + " - " + p
}

var errNoCatalog = errors.New("no product catalog configured")

// handleProduct renders catalog products as one generic template.
// A node without product ids, or whose ids resolve to nothing, is skipped.
func handleProduct(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.ProductData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	if len(data.ProductIDs) == 0 {
		return Outcome{}, nil
	}
	if nc.engine.catalog == nil {
		return Outcome{}, errNoCatalog
	}
	products, err := nc.engine.catalog.GetProducts(ctx, data.ProductIDs)
	if err != nil {
		return Outcome{}, err
	}
	if len(products) > domain.MaxElements {
		products = products[:domain.MaxElements]
	}

	buttonTitle := data.ButtonTitle
	if buttonTitle == "" {
		buttonTitle = "View"
	}
	elements := make([]domain.Element, 0, len(products))
	for _, p := range products {
		el := domain.Element{
			Title:    p.Name,
			Subtitle: priceSubtitle("", p.Price, p.Currency),
			ImageURL: p.ImageURL,
		}
		if p.URL != "" {
			el.Buttons = []domain.Button{{Type: domain.ButtonURL, Title: buttonTitle, URL: p.URL}}
		} else {
			el.Buttons = []domain.Button{{
				Type:    domain.ButtonPostback,
				Title:   buttonTitle,
				Payload: nc.choice(nc.Node.ID, "", domain.HandleDefault),
			}}
		}
		elements = append(elements, el)
	}
	if len(elements) == 0 {
		return Outcome{}, nil
	}
	return Outcome{}, nc.Send(ctx, domain.NewGenericMessage(elements...))
}

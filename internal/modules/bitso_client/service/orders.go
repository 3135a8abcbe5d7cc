package service

import (
	"context"
	"net/http"
	"net/url"
	"time"
	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type placeOrderBody struct {
	Book  string `json:"book"`
	Side  string `json:"side"`
	Type  string `json:"type"`
	Major string `json:"major"`
	Price string `json:"price,omitempty"`
}

// PlaceOrder отправляет ровно один ордер. Ретраи только транспортные (429/сеть).
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.PlacedOrder, error) {
	if _, _, err := models.ParseBook(req.Book); err != nil {
		return models.PlacedOrder{}, err
	}
	if !req.Side.Valid() {
		return models.PlacedOrder{}, errors.Errorf("bitso: bad side %q", req.Side)
	}
	if req.Type == "" {
		req.Type = models.OrderTypeMarket
	}
	if !req.Type.Valid() {
		return models.PlacedOrder{}, errors.Errorf("bitso: bad order type %q", req.Type)
	}
	if req.Amount <= 0 {
		return models.PlacedOrder{}, errors.Errorf("bitso: amount must be > 0, got %v", req.Amount)
	}

	body := placeOrderBody{
		Book:  req.Book,
		Side:  string(req.Side),
		Type:  string(req.Type),
		Major: decimal.NewFromFloat(req.Amount).String(),
	}
	if req.Type == models.OrderTypeLimit {
		if req.Price <= 0 {
			return models.PlacedOrder{}, errors.New("bitso: limit order without price")
		}
		body.Price = decimal.NewFromFloat(req.Price).String()
	}

	payload, err := c.Call(ctx, Request{
		Method:        http.MethodPost,
		Path:          "/v3/orders/",
		Body:          body,
		Authenticated: true,
	})
	if err != nil {
		return models.PlacedOrder{}, err
	}

	var resp struct {
		OID string `json:"oid"`
	}
	if err := sonic.Unmarshal(payload, &resp); err != nil {
		return models.PlacedOrder{}, errors.Wrap(err, "bitso: decode place order")
	}
	if resp.OID == "" {
		return models.PlacedOrder{}, errors.Wrap(errUnexpectedBody, "place order: empty oid")
	}
	return models.PlacedOrder{
		OID:       resp.OID,
		Book:      req.Book,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// CancelOrder возвращает список отменённых oid.
func (c *Client) CancelOrder(ctx context.Context, oid string) ([]string, error) {
	if oid == "" {
		return nil, errors.New("bitso: empty oid")
	}
	payload, err := c.Call(ctx, Request{
		Method:        http.MethodDelete,
		Path:          "/v3/orders/" + url.PathEscape(oid) + "/",
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	var oids []string
	if err := sonic.Unmarshal(payload, &oids); err != nil {
		return nil, errors.Wrap(err, "bitso: decode cancel order")
	}
	return oids, nil
}

package service

import (
	"context"
	"net/http"
	"strings"
	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

type balanceDTO struct {
	Currency  string `json:"currency"`
	Total     num    `json:"total"`
	Locked    num    `json:"locked"`
	Available num    `json:"available"`
}

type openOrderDTO struct {
	OID            string `json:"oid"`
	Book           string `json:"book"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Price          num    `json:"price"`
	OriginalAmount num    `json:"original_amount"`
	UnfilledAmount num    `json:"unfilled_amount"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// AccountStatus — минимум, который нужен для проверки ключей при старте.
type AccountStatus struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

func (c *Client) Balances(ctx context.Context) (models.Balances, error) {
	payload, err := c.Call(ctx, Request{
		Method:        http.MethodGet,
		Path:          "/v3/balance/",
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var dto struct {
		Balances []balanceDTO `json:"balances"`
	}
	if err := sonic.Unmarshal(payload, &dto); err != nil {
		return nil, errors.Wrap(err, "bitso: decode balances")
	}
	out := make(models.Balances, len(dto.Balances))
	for _, b := range dto.Balances {
		cur := strings.ToLower(b.Currency)
		out[cur] = models.Balance{
			Currency:  cur,
			Available: b.Available.Float(),
			Locked:    b.Locked.Float(),
			Total:     b.Total.Float(),
		}
	}
	return out, nil
}

// OpenOrders: пустой book — ордера по всем книгам.
func (c *Client) OpenOrders(ctx context.Context, book string) ([]models.OpenOrder, error) {
	path := "/v3/open_orders/"
	if book != "" {
		q, err := bookQuery(book)
		if err != nil {
			return nil, err
		}
		path += "?book=" + q
	}
	payload, err := c.Call(ctx, Request{
		Method:        http.MethodGet,
		Path:          path,
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var dtos []openOrderDTO
	if err := sonic.Unmarshal(payload, &dtos); err != nil {
		return nil, errors.Wrap(err, "bitso: decode open orders")
	}
	out := make([]models.OpenOrder, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, models.OpenOrder{
			OID:            d.OID,
			Book:           d.Book,
			Side:           models.Action(d.Side),
			Type:           models.OrderType(d.Type),
			Price:          d.Price.Float(),
			OriginalAmount: d.OriginalAmount.Float(),
			UnfilledAmount: d.UnfilledAmount.Float(),
			Status:         d.Status,
			CreatedAt:      parseTime(d.CreatedAt),
		})
	}
	return out, nil
}

func (c *Client) AccountStatus(ctx context.Context) (AccountStatus, error) {
	payload, err := c.Call(ctx, Request{
		Method:        http.MethodGet,
		Path:          "/v3/account_status/",
		Authenticated: true,
	})
	if err != nil {
		return AccountStatus{}, err
	}
	var st AccountStatus
	if err := sonic.Unmarshal(payload, &st); err != nil {
		return AccountStatus{}, errors.Wrap(err, "bitso: decode account status")
	}
	return st, nil
}

package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Биржа отдаёт числа строками, decimal разбирает их без потери точности.
type num string

func (n num) Float() float64 {
	if n == "" {
		return 0
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type tickerDTO struct {
	Book      string `json:"book"`
	Last      num    `json:"last"`
	Bid       num    `json:"bid"`
	Ask       num    `json:"ask"`
	High      num    `json:"high"`
	Low       num    `json:"low"`
	Volume    num    `json:"volume"`
	VWAP      num    `json:"vwap"`
	CreatedAt string `json:"created_at"`
}

type levelDTO struct {
	Book   string `json:"book"`
	Price  num    `json:"price"`
	Amount num    `json:"amount"`
}

type orderBookDTO struct {
	Bids      []levelDTO `json:"bids"`
	Asks      []levelDTO `json:"asks"`
	Sequence  string     `json:"sequence"`
	UpdatedAt string     `json:"updated_at"`
}

type tradeDTO struct {
	TID       int64  `json:"tid"`
	Book      string `json:"book"`
	Price     num    `json:"price"`
	Amount    num    `json:"amount"`
	Side      string `json:"maker_side"`
	CreatedAt string `json:"created_at"`
}

func bookQuery(book string) (string, error) {
	if _, _, err := models.ParseBook(book); err != nil {
		return "", err
	}
	return url.QueryEscape(book), nil
}

func (c *Client) Ticker(ctx context.Context, book string) (models.Ticker, error) {
	q, err := bookQuery(book)
	if err != nil {
		return models.Ticker{}, err
	}
	payload, err := c.Call(ctx, Request{
		Method:    http.MethodGet,
		Path:      "/v3/ticker/?book=" + q,
		Cacheable: true,
	})
	if err != nil {
		return models.Ticker{}, err
	}

	var dto tickerDTO
	if err := sonic.Unmarshal(payload, &dto); err != nil {
		return models.Ticker{}, errors.Wrapf(err, "bitso: decode ticker %s", book)
	}
	if dto.Book == "" {
		dto.Book = book
	}
	return models.Ticker{
		Book:      dto.Book,
		Last:      dto.Last.Float(),
		Bid:       dto.Bid.Float(),
		Ask:       dto.Ask.Float(),
		High:      dto.High.Float(),
		Low:       dto.Low.Float(),
		Volume:    dto.Volume.Float(),
		VWAP:      dto.VWAP.Float(),
		CreatedAt: parseTime(dto.CreatedAt),
	}, nil
}

func (c *Client) OrderBook(ctx context.Context, book string) (models.OrderBook, error) {
	q, err := bookQuery(book)
	if err != nil {
		return models.OrderBook{}, err
	}
	payload, err := c.Call(ctx, Request{
		Method:    http.MethodGet,
		Path:      "/v3/order_book/?book=" + q,
		Cacheable: true,
	})
	if err != nil {
		return models.OrderBook{}, err
	}

	var dto orderBookDTO
	if err := sonic.Unmarshal(payload, &dto); err != nil {
		return models.OrderBook{}, errors.Wrapf(err, "bitso: decode order book %s", book)
	}
	ob := models.OrderBook{
		Book:      book,
		Bids:      make([]models.PriceLevel, 0, len(dto.Bids)),
		Asks:      make([]models.PriceLevel, 0, len(dto.Asks)),
		Sequence:  dto.Sequence,
		UpdatedAt: parseTime(dto.UpdatedAt),
	}
	for _, l := range dto.Bids {
		ob.Bids = append(ob.Bids, models.PriceLevel{Price: l.Price.Float(), Amount: l.Amount.Float()})
	}
	for _, l := range dto.Asks {
		ob.Asks = append(ob.Asks, models.PriceLevel{Price: l.Price.Float(), Amount: l.Amount.Float()})
	}
	return ob, nil
}

// Trades — последние публичные сделки, биржа отдаёт от новых к старым.
func (c *Client) Trades(ctx context.Context, book string, limit int) ([]models.PublicTrade, error) {
	q, err := bookQuery(book)
	if err != nil {
		return nil, err
	}
	path := "/v3/trades/?book=" + q
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}
	payload, err := c.Call(ctx, Request{
		Method:    http.MethodGet,
		Path:      path,
		Cacheable: true,
	})
	if err != nil {
		return nil, err
	}

	var dtos []tradeDTO
	if err := sonic.Unmarshal(payload, &dtos); err != nil {
		return nil, errors.Wrapf(err, "bitso: decode trades %s", book)
	}
	out := make([]models.PublicTrade, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, models.PublicTrade{
			TID:       d.TID,
			Book:      book,
			Price:     d.Price.Float(),
			Amount:    d.Amount.Float(),
			Side:      models.Action(d.Side),
			CreatedAt: parseTime(d.CreatedAt),
		})
	}
	return out, nil
}

package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

// ExecuteTrade places a market order, or a GTC limit order when a price is given,
// followed by reduce-only stop-loss and take-profit orders.
func (c *Client) ExecuteTrade(ctx context.Context, req *broker.TradeRequest) (*broker.TradeResult, error) {
	if p := c.fallback(); p != nil {
		return p.ExecuteTrade(ctx, req)
	}

	client := c.session()
	if client == nil {
		return nil, broker.NewBrokerError(c.name, broker.CodeNotConnected, "Not connected to Binance", broker.ErrNotConnected)
	}
	if req == nil {
		return nil, fmt.Errorf("trade request is nil")
	}

	info, err := c.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	volume := broker.NormalizeVolume(req.Volume, info.VolumeMin, info.VolumeMax, info.VolumeStep)
	quantity := broker.FormatQuantity(volume, broker.StepPrecision(info.VolumeStep))

	service := client.NewCreateOrderService().
		Symbol(info.Symbol).
		Side(convertToBinanceSide(req.Side)).
		Quantity(quantity)

	price := req.Price
	if price > 0 {
		service = service.
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(broker.FormatQuantity(price, info.Digits))
	} else {
		service = service.Type(futures.OrderTypeMarket)
		price = info.Ask
		if req.Side == broker.OrderSideSell {
			price = info.Bid
		}
	}

	order, err := service.Do(ctx)
	if err != nil {
		return nil, broker.NewBrokerError(c.name, broker.CodeRejected, "Trade failed: "+err.Error(), err)
	}

	switch order.Status {
	case futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return nil, broker.NewBrokerError(c.name, broker.CodeRejected,
			fmt.Sprintf("Trade failed: %s", order.Status), broker.ErrOrderRejected)
	}

	if p := parseFloatOrZero(order.Price); p > 0 {
		price = p
	}

	exit := broker.GetOppositeOrderSide(req.Side)
	if req.StopLoss > 0 {
		if err := c.placeProtectiveOrder(ctx, client, info, futures.OrderTypeStopMarket, exit, quantity, req.StopLoss); err != nil {
			c.logger.Warn("failed to place stop loss", zap.String("symbol", info.Symbol), zap.Error(err))
		}
	}
	if req.TakeProfit > 0 {
		if err := c.placeProtectiveOrder(ctx, client, info, futures.OrderTypeTakeProfitMarket, exit, quantity, req.TakeProfit); err != nil {
			c.logger.Warn("failed to place take profit", zap.String("symbol", info.Symbol), zap.Error(err))
		}
	}

	return &broker.TradeResult{
		Ticket:     strconv.FormatInt(order.OrderID, 10),
		Symbol:     info.Symbol,
		Side:       req.Side,
		Volume:     volume,
		Price:      price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Message:    "Trade executed successfully",
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// ClosePosition closes every non-zero position of a symbol with reduce-only market orders
func (c *Client) ClosePosition(ctx context.Context, symbol string, volume float64) (*broker.CloseResult, error) {
	if p := c.fallback(); p != nil {
		return p.ClosePosition(ctx, symbol, volume)
	}

	client := c.session()
	if client == nil {
		return nil, broker.NewBrokerError(c.name, broker.CodeNotConnected, "Not connected to Binance", broker.ErrNotConnected)
	}

	symbol = broker.NormalizeSymbol(symbol)
	positions, err := c.positionRisk(ctx, symbol)
	if err != nil {
		return nil, broker.NewBrokerError(c.name, broker.CodeNetworkError, "Failed to get positions", err)
	}
	if len(positions) == 0 {
		return nil, broker.NewBrokerError(c.name, broker.CodeNoPositions,
			fmt.Sprintf("No open positions for %s", symbol), broker.ErrNoPositions)
	}

	c.mu.Lock()
	info := c.symbols[symbol]
	c.mu.Unlock()

	result := &broker.CloseResult{Symbol: symbol}
	for _, pos := range positions {
		closeVolume := pos.Volume
		if volume > 0 && volume < pos.Volume {
			closeVolume = broker.NormalizeVolume(volume, info.VolumeMin, pos.Volume, info.VolumeStep)
		}

		service := client.NewCreateOrderService().
			Symbol(symbol).
			Side(convertToBinanceSide(broker.GetOppositeOrderSide(pos.Side))).
			Type(futures.OrderTypeMarket).
			Quantity(broker.FormatQuantity(closeVolume, broker.StepPrecision(info.VolumeStep)))

		// hedge-mode tickets carry the position side; reduce-only is implied there
		if side := positionSideOf(pos.Ticket); side != futures.PositionSideTypeBoth {
			service = service.PositionSide(side)
		} else {
			service = service.ReduceOnly(true)
		}

		if _, err := service.Do(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to close position %s: %v", pos.Ticket, err))
			continue
		}

		result.Closed++
		result.Tickets = append(result.Tickets, pos.Ticket)
		result.Volume += closeVolume
		result.Price = pos.PriceCurrent
		result.Profit += pos.Profit * closeVolume / pos.Volume
	}

	if result.Closed == 0 {
		return nil, broker.NewBrokerError(c.name, broker.CodeRejected, strings.Join(result.Errors, "; "), broker.ErrOrderRejected)
	}

	result.Message = fmt.Sprintf("Closed %d positions", result.Closed)
	return result, nil
}

func (c *Client) positionRisk(ctx context.Context, symbol string) ([]broker.Position, error) {
	client := c.session()
	if client == nil {
		return nil, broker.ErrNotConnected
	}

	service := client.NewGetPositionRiskService()
	if symbol != "" {
		service = service.Symbol(broker.NormalizeSymbol(symbol))
	}

	risks, err := service.Do(ctx)
	if err != nil {
		return nil, err
	}

	var positions []broker.Position
	for _, risk := range risks {
		amount := parseFloatOrZero(risk.PositionAmt)
		if amount == 0 {
			continue
		}
		positions = append(positions, convertPositionRisk(risk.Symbol, string(risk.PositionSide), amount,
			risk.EntryPrice, risk.MarkPrice, risk.UnRealizedProfit))
	}
	return positions, nil
}

func (c *Client) placeProtectiveOrder(ctx context.Context, client *futures.Client, info *broker.SymbolInfo,
	orderType futures.OrderType, side broker.OrderSide, quantity string, stopPrice float64) error {
	_, err := client.NewCreateOrderService().
		Symbol(info.Symbol).
		Side(convertToBinanceSide(side)).
		Type(orderType).
		Quantity(quantity).
		StopPrice(broker.FormatQuantity(stopPrice, info.Digits)).
		ReduceOnly(true).
		TimeInForce(futures.TimeInForceTypeGTC).
		Do(ctx)
	return err
}

func convertPositionRisk(symbol, positionSide string, amount float64, entry, mark, profit string) broker.Position {
	side := broker.OrderSideBuy
	if amount < 0 {
		side = broker.OrderSideSell
	}
	return broker.Position{
		Ticket:       symbol + ":" + strings.ToUpper(positionSide),
		Symbol:       symbol,
		Side:         side,
		Volume:       math.Abs(amount),
		PriceOpen:    parseFloatOrZero(entry),
		PriceCurrent: parseFloatOrZero(mark),
		Profit:       parseFloatOrZero(profit),
	}
}

func positionSideOf(ticket string) futures.PositionSideType {
	_, side, _ := strings.Cut(ticket, ":")
	switch side {
	case "LONG":
		return futures.PositionSideTypeLong
	case "SHORT":
		return futures.PositionSideTypeShort
	default:
		return futures.PositionSideTypeBoth
	}
}

func convertToBinanceSide(side broker.OrderSide) futures.SideType {
	switch side {
	case broker.OrderSideSell:
		return futures.SideTypeSell
	default:
		return futures.SideTypeBuy
	}
}

package main

import (
	"strings"

	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/model"
	"github.com/spf13/cast"
)

// describeOrder reads the order book attributes of an upstream payload.
// Missing sides count as sell and missing scopes as individual orders.
func describeOrder(e event.Event[Payload]) model.Order {
	p := e.Payload
	o := model.Order{
		Side:        model.SideSell,
		Scope:       model.ScopeOrder,
		Price:       cast.ToFloat64(p["price"]),
		Size:        cast.ToFloat64(p["size"]),
		Sequence:    cast.ToInt64(p["sequence"]),
		MarketMaker: cast.ToString(p["market_maker"]),
	}

	switch strings.ToLower(cast.ToString(p["side"])) {
	case "buy", "bid":
		o.Side = model.SideBuy
	}

	switch strings.ToLower(cast.ToString(p["scope"])) {
	case "composite":
		o.Scope = model.ScopeComposite
	case "regional":
		o.Scope = model.ScopeRegional
	case "aggregate":
		o.Scope = model.ScopeAggregate
	}

	if exchange := cast.ToString(p["exchange"]); exchange != "" {
		o.Exchange = exchange[0]
	}
	return o
}

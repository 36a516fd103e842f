package model

import "github.com/devexperts/QD-sub016/event"

type quote struct {
	Price float64
}

func ev(source int, index int64, flags event.Flags, price float64) event.Event[quote] {
	return event.Event[quote]{
		Symbol:   "IBM",
		SourceID: source,
		Index:    index,
		Flags:    flags,
		Payload:  quote{Price: price},
	}
}

func indices(events []event.Event[quote]) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Index
	}
	return out
}

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrListenerRequired is returned when a model is built without a listener
	ErrListenerRequired = errors.New("listener is required")
	// ErrSymbolRequired is returned when a transaction model is built without a symbol
	ErrSymbolRequired = errors.New("symbol is required")
	// ErrInvalidSizeLimit is returned for negative size limits
	ErrInvalidSizeLimit = errors.New("size limit must be non-negative")
	// ErrModelClosed is returned when attaching a closed model
	ErrModelClosed = errors.New("model is closed")
	// ErrInspectInDelivery is returned by Inspect while the model notifies its listeners
	ErrInspectInDelivery = errors.New("inspect called during listener delivery")
	// ErrDescribeRequired is returned when an order book is built without a Describe function
	ErrDescribeRequired = errors.New("describe function is required")
	// ErrInvalidLotSize is returned for lot sizes below 1
	ErrInvalidLotSize = errors.New("lot size must be at least 1")
	// ErrListenerPanic wraps a panic recovered from a listener
	ErrListenerPanic = errors.New("listener panicked")
)

// IndexOutOfRangeError represents positional access beyond the list size
type IndexOutOfRangeError struct {
	Index int
	Size  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Size)
}

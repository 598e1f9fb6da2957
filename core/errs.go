package core

import "errors"

var (
	ErrBaseAssetEmpty   = errors.New("empty base asset")
	ErrQuoteAssetEmpty  = errors.New("empty quote asset")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrEnsembleDisabled = errors.New("validation ensemble disabled")
	ErrRetriesExhausted = errors.New("order retries exhausted")
	ErrInvalidPosition  = errors.New("position fails invariants")
)

// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package coderr

import "net/http"

type Code int

const (
	Invalid         Code = -1
	Ok              Code = 0
	InvalidParams   Code = http.StatusBadRequest
	BadRequest      Code = http.StatusBadRequest
	NotFound        Code = http.StatusNotFound
	Conflict        Code = http.StatusConflict
	TooManyRequests Code = http.StatusTooManyRequests
	Internal        Code = http.StatusInternalServerError

	// HTTPCodeUpperBound is a bound under which any Code should have the same meaning with the http status code.
	HTTPCodeUpperBound = Code(1000)
	PrintHelpUsage     = Code(1001)
	IllegalState       = Code(1002)
	Configuration      = Code(1003)
)

// ToHTTPCode converts the Code to http code.
// The Code below the HTTPCodeUpperBound has the same meaning as the http status code. However, for the other codes, we
// should define the conversion rules by ourselves.
func (c Code) ToHTTPCode() int {
	if c < HTTPCodeUpperBound {
		return int(c)
	}

	switch c {
	case PrintHelpUsage:
		return http.StatusBadRequest
	case IllegalState:
		return http.StatusConflict
	case Configuration:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

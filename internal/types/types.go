// Package types holds the small value objects shared across modules.
package types

type ID string

type Money struct {
	Amount   int64
	Currency string
}

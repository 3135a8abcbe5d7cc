package models

import (
	"fmt"
	"strings"
)

// ParseBook разбирает книгу вида base_quote ("btc_mxn").
func ParseBook(book string) (base, quote string, err error) {
	parts := strings.Split(book, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid book %q: expected base_quote", book)
	}
	if book != strings.ToLower(book) {
		return "", "", fmt.Errorf("invalid book %q: must be lowercase", book)
	}
	return parts[0], parts[1], nil
}

func BookBase(book string) string {
	base, _, _ := ParseBook(book)
	return base
}

func BookQuote(book string) string {
	_, quote, _ := ParseBook(book)
	return quote
}

func MakeBook(base, quote string) string {
	return strings.ToLower(base) + "_" + strings.ToLower(quote)
}

package utils

import (
	"strings"
)

// NormalizePhone rewrites a phone number into the international format the
// payment gateway expects: a leading "0" or "+<prefix>" becomes "<prefix>".
// "0712345678" and "+254712345678" both normalize to "254712345678".
func NormalizePhone(phone, countryPrefix string) string {
	phone = strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(phone, "0"):
		return countryPrefix + phone[1:]
	case strings.HasPrefix(phone, "+"):
		return phone[1:]
	default:
		return phone
	}
}

// TotalPages computes the number of pages for a listing.
func TotalPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// PageBounds clamps page and limit to sane values and returns the offset.
func PageBounds(page, limit, maxLimit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit
}

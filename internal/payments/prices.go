package payments

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PriceTable maps a Stripe price id to the tokens one unit buys
type PriceTable map[string]int64

// ParsePriceTable parses "price_a:100000,price_b:550000"
func ParsePriceTable(s string) (PriceTable, error) {
	table := make(PriceTable)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		priceID, tokens, ok := strings.Cut(entry, ":")
		priceID = strings.TrimSpace(priceID)
		if !ok || priceID == "" {
			return nil, fmt.Errorf("invalid price entry %q", entry)
		}

		n, err := strconv.ParseInt(strings.TrimSpace(tokens), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid token amount for price %q", priceID)
		}
		table[priceID] = n
	}
	return table, nil
}

// Tokens returns the tokens bought by quantity units of the price. Unknown
// prices and quantities outside 1..MaxQuantity are rejected.
func (t PriceTable) Tokens(priceID string, quantity int64) (int64, bool) {
	perUnit, ok := t[priceID]
	if !ok || quantity <= 0 || quantity > MaxQuantity {
		return 0, false
	}
	if perUnit > math.MaxInt64/quantity {
		return 0, false
	}
	return perUnit * quantity, true
}

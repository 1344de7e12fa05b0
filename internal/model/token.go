package model

import (
	"fmt"
	"strings"
)

// ProductSeparator splits the vendor and product parts of a product-level token.
const ProductSeparator = "$PRODUCT$"

// ParseToken splits a subscription token into its vendor and product parts.
// A token is either "vendor" or "vendor$PRODUCT$product". Product is empty for
// vendor-level tokens.
func ParseToken(token string) (vendor, product string, err error) {
	if token == "" {
		return "", "", fmt.Errorf("empty subscription token")
	}
	parts := strings.SplitN(token, ProductSeparator, 2)
	vendor = parts[0]
	if vendor == "" {
		return "", "", fmt.Errorf("token %q has an empty vendor part", token)
	}
	if len(parts) == 2 {
		product = parts[1]
		if product == "" {
			return "", "", fmt.Errorf("token %q has an empty product part", token)
		}
	}
	return vendor, product, nil
}

// HumanizeToken converts a raw token into its display form: underscores become
// spaces and each word is title-cased. Product-level tokens include both names,
// e.g. "microsoft$PRODUCT$windows_server" -> "Microsoft Windows Server".
func HumanizeToken(token string) string {
	vendor, product, err := ParseToken(token)
	if err != nil {
		return token
	}
	if product == "" {
		return humanizeName(vendor)
	}
	return humanizeName(vendor) + " " + humanizeName(product)
}

func humanizeName(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

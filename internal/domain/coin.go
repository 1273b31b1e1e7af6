package domain

import "strings"

// Coin identifiers follow the price source's slug format: lowercase
// alphanumerics separated by single hyphens ("bitcoin", "ethereum",
// "matic-network").

// NormalizeCoinID lowercases and trims a coin identifier and validates it.
func NormalizeCoinID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if err := ValidateCoinID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateCoinID validates the coin identifier format.
// Identifiers must be 1-100 characters of lowercase alphanumerics and
// hyphens, not starting or ending with a hyphen.
func ValidateCoinID(id string) error {
	if len(id) == 0 || len(id) > 100 {
		return ErrInvalidCoinID
	}

	if id[0] == '-' || id[len(id)-1] == '-' {
		return ErrInvalidCoinID
	}

	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return ErrInvalidCoinID
		}
	}

	return nil
}

package pricing

import "errors"

var ErrInvalidArgument = errors.New("pricing: invalid argument")

// BilledMinutes rounds elapsed seconds up to whole minutes. Zero seconds bills zero.
func BilledMinutes(elapsedSeconds int64) int64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	m := elapsedSeconds / 60
	if elapsedSeconds%60 != 0 {
		m++
	}
	return m
}

// BilledCost is the single cost function used for both the live projection and
// settlement: ceil(elapsed/60) * rate.
func BilledCost(elapsedSeconds int64, ratePerMinute Credits) (Credits, error) {
	if elapsedSeconds < 0 || ratePerMinute <= 0 {
		return 0, ErrInvalidArgument
	}
	return Credits(BilledMinutes(elapsedSeconds)) * ratePerMinute, nil
}

// AffordableSeconds is the longest call duration the balance pays for in full.
// A non-positive balance affords nothing.
func AffordableSeconds(balance, ratePerMinute Credits) int64 {
	if balance <= 0 || ratePerMinute <= 0 {
		return 0
	}
	return int64(balance/ratePerMinute) * 60
}

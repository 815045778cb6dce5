package products

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/repository"
)

const dateOnly = "2006-01-02"

// ParseFilter reads list filters from query parameters
func ParseFilter(query url.Values) (repository.ProductFilter, error) {
	filter := repository.ProductFilter{
		Name:                strings.TrimSpace(query.Get("name")),
		Type:                strings.TrimSpace(query.Get("type")),
		Location:            strings.TrimSpace(query.Get("location")),
		FarmerName:          strings.TrimSpace(query.Get("farmerName")),
		FarmerWalletAddress: strings.TrimSpace(query.Get("farmerWalletAddress")),
		TransportStatus:     strings.TrimSpace(query.Get("transportStatus")),
		TransportLocation:   strings.TrimSpace(query.Get("transportLocation")),
		Certification:       strings.TrimSpace(query.Get("certification")),
	}

	if raw := strings.TrimSpace(query.Get("quantity")); raw != "" {
		qty, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, apperror.Validation("quantity must be a number, got %q", raw)
		}
		filter.Quantity = &qty
	}

	if raw := strings.TrimSpace(query.Get("createdAtStart")); raw != "" {
		start, _, err := parseBound(raw)
		if err != nil {
			return filter, apperror.Validation("createdAtStart must be RFC3339 or YYYY-MM-DD, got %q", raw)
		}
		filter.CreatedAtStart = &start
	}

	if raw := strings.TrimSpace(query.Get("createdAtEnd")); raw != "" {
		end, isDate, err := parseBound(raw)
		if err != nil {
			return filter, apperror.Validation("createdAtEnd must be RFC3339 or YYYY-MM-DD, got %q", raw)
		}
		// a bare date covers the whole day
		if isDate {
			end = end.Add(24*time.Hour - time.Nanosecond)
		}
		filter.CreatedAtEnd = &end
	}

	if filter.CreatedAtStart != nil && filter.CreatedAtEnd != nil && filter.CreatedAtEnd.Before(*filter.CreatedAtStart) {
		return filter, apperror.Validation("createdAtEnd is before createdAtStart")
	}
	return filter, nil
}

func parseBound(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}

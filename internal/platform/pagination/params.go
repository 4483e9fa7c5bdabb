package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
)

// Options control Parse for one listing endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedStatuses lists the accepted values of the repeated/comma separated "status" parameter.
	// Empty disables status filtering.
	AllowedStatuses []string
}

// Params holds normalised listing parameters.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Statuses  []string
}

// FromRequest parses listing parameters from the request query.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse normalises pageSize, pageToken and status values.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}
	size, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: size}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}

	statuses, err := parseStatuses(values["status"], opts.AllowedStatuses)
	if err != nil {
		return Params{}, err
	}
	params.Statuses = statuses
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	if def > maxSize {
		def = maxSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxSize {
		value = maxSize
	}
	return value, nil
}

func parseStatuses(values []string, allowed []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: status filtering not supported", ErrInvalidFilter)
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, status := range allowed {
		allowedSet[strings.ToUpper(status)] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			status := strings.ToUpper(strings.TrimSpace(part))
			if status == "" {
				continue
			}
			if _, ok := allowedSet[status]; !ok {
				return nil, fmt.Errorf("%w: status %q is not allowed", ErrInvalidFilter, part)
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			out = append(out, status)
		}
	}
	return out, nil
}

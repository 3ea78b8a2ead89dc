package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/schema"
)

// queryDecoder turns url.Values into the typed filter structs below. Scalar
// fields (strings, ints, plain bools) go through gorilla/schema; optional
// ranges and timestamps are parsed by hand afterward since their "absent"
// state (nil) needs to be distinguished from their zero value, which a bare
// schema tag can't express.
var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

func decodeQuery(r *http.Request, dst interface{}) error {
	return queryDecoder.Decode(dst, r.URL.Query())
}

func optionalBool(v url.Values, key string) *bool {
	raw := v.Get(key)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &b
}

func optionalTime(v url.Values, key string) *time.Time {
	raw := v.Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func optionalFloat(v url.Values, key string) *float64 {
	raw := v.Get(key)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

// pagination is embedded by every list query.
type pagination struct {
	Page  int `schema:"page"`
	Limit int `schema:"limit"`
}

type deviceQuery struct {
	pagination
	Status             string `schema:"status"`
	RegistrationStatus string `schema:"registrationStatus"`
	Search             string `schema:"search"`
}

type alertQuery struct {
	pagination
	DeviceID  string `schema:"deviceId"`
	Severity  string `schema:"severity"`
	Status    string `schema:"status"`
	Parameter string `schema:"parameter"`
}

type readingQuery struct {
	pagination
	DeviceID string `schema:"deviceId"`
}

type reportQuery struct {
	pagination
	Type        string `schema:"type"`
	Status      string `schema:"status"`
	GeneratedBy string `schema:"generatedBy"`
}

// pageLimit clamps page/limit to the bounds a given list endpoint accepts,
// defaulting unset/invalid values.
func pageLimit(page, limit, defaultLimit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	return page, limit
}

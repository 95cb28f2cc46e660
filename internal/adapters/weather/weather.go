// Package weather provides the get_weather tool backed by the Open-Meteo
// geocoding and forecast APIs. Neither API needs credentials.
package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/toolweave/internal/adapters"
	"github.com/MrWong99/toolweave/internal/resilience"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// ToolName is the registry name of the weather tool.
const ToolName = "get_weather"

const (
	DefaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	defaultTimeout     = 8 * time.Second
)

// ErrCityNotFound is returned when geocoding yields no match.
var ErrCityNotFound = errors.New("weather: city not found")

// Option configures a [Client].
type Option func(*Client)

// WithGeocodeURL overrides the geocoding endpoint.
func WithGeocodeURL(u string) Option {
	return func(c *Client) { c.geocodeURL = u }
}

// WithForecastURL overrides the forecast endpoint.
func WithForecastURL(u string) Option {
	return func(c *Client) { c.forecastURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout sets the per-request HTTP timeout. Default: 8s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// Client looks up current conditions for a city name.
type Client struct {
	geocodeURL  string
	forecastURL string
	hc          *http.Client
	breaker     *resilience.CircuitBreaker
}

// New returns a client with the public Open-Meteo endpoints.
func New(opts ...Option) *Client {
	c := &Client{
		geocodeURL:  DefaultGeocodeURL,
		forecastURL: DefaultForecastURL,
		hc:          &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "weather",
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrCityNotFound) && !errors.Is(err, context.Canceled)
		},
	})
	return c
}

// Report is the payload of get_weather.
type Report struct {
	City         string  `json:"city"`
	Country      string  `json:"country,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	TemperatureC float64 `json:"temperature_c"`
	FeelsLikeC   float64 `json:"feels_like_c"`
	Humidity     int     `json:"humidity_percent"`
	WindKmh      float64 `json:"wind_kmh"`
	Conditions   string  `json:"conditions"`
	ObservedAt   string  `json:"observed_at,omitempty"`
}

// Summary renders the report as one sentence.
func (r Report) Summary() string {
	place := r.City
	if r.Country != "" {
		place += ", " + r.Country
	}
	return fmt.Sprintf("In %s it is currently %.0f°C (feels like %.0f°C) with %s, %d%% humidity and wind at %.0f km/h.",
		place, r.TemperatureC, r.FeelsLikeC, strings.ToLower(r.Conditions), r.Humidity, r.WindKmh)
}

type weatherArgs struct {
	City string `json:"city"`
}

// Tools returns get_weather.
func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{{
		Definition: llm.ToolDefinition{
			Name:        ToolName,
			Description: "Get the current weather conditions for a city.",
			Parameters: adapters.Schema(map[string]any{
				"city": adapters.Prop("string", "City name, e.g. \"Paris\" or \"New York\"."),
			}, "city"),
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a weatherArgs
			if err := adapters.Decode(args, &a); err != nil {
				return nil, err
			}
			return c.Current(ctx, a.City)
		},
		SideEffect: tool.SideEffectRead,
		Timeout:    2 * defaultTimeout,
	}}
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Time                string  `json:"time"`
		Temperature         float64 `json:"temperature_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		RelativeHumidity    int     `json:"relative_humidity_2m"`
		WindSpeed           float64 `json:"wind_speed_10m"`
		WeatherCode         int     `json:"weather_code"`
	} `json:"current"`
}

// Current resolves city and fetches its current conditions.
func (c *Client) Current(ctx context.Context, city string) (*Report, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, errors.New("weather: city must not be empty")
	}

	var report *Report
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		r, err := c.fetch(ctx, city)
		report = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (c *Client) fetch(ctx context.Context, city string) (*Report, error) {
	q := url.Values{"name": {city}, "count": {"1"}, "language": {"en"}, "format": {"json"}}
	req, err := http.NewRequest(http.MethodGet, c.geocodeURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build geocode request: %w", err)
	}
	var geo geocodeResponse
	if err := adapters.FetchJSON(ctx, c.hc, "weather", req, &geo); err != nil {
		return nil, err
	}
	if len(geo.Results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrCityNotFound, city)
	}
	loc := geo.Results[0]

	q = url.Values{
		"latitude":  {fmt.Sprintf("%.4f", loc.Latitude)},
		"longitude": {fmt.Sprintf("%.4f", loc.Longitude)},
		"current":   {"temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,weather_code"},
	}
	req, err = http.NewRequest(http.MethodGet, c.forecastURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build forecast request: %w", err)
	}
	var fc forecastResponse
	if err := adapters.FetchJSON(ctx, c.hc, "weather", req, &fc); err != nil {
		return nil, err
	}

	return &Report{
		City:         loc.Name,
		Country:      loc.Country,
		Latitude:     loc.Latitude,
		Longitude:    loc.Longitude,
		TemperatureC: fc.Current.Temperature,
		FeelsLikeC:   fc.Current.ApparentTemperature,
		Humidity:     fc.Current.RelativeHumidity,
		WindKmh:      fc.Current.WindSpeed,
		Conditions:   Describe(fc.Current.WeatherCode),
		ObservedAt:   fc.Current.Time,
	}, nil
}

// Describe maps a WMO weather interpretation code to text.
func Describe(code int) string {
	switch {
	case code == 0:
		return "Clear sky"
	case code <= 2:
		return "Partly cloudy"
	case code == 3:
		return "Overcast"
	case code == 45 || code == 48:
		return "Fog"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case code >= 61 && code <= 67:
		return "Rain"
	case code >= 71 && code <= 77:
		return "Snow"
	case code >= 80 && code <= 82:
		return "Rain showers"
	case code == 85 || code == 86:
		return "Snow showers"
	case code >= 95:
		return "Thunderstorm"
	}
	return "Unknown conditions"
}

package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"k8s.io/klog/v2"
)

const (
	DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodeURL = "https://nominatim.openstreetmap.org"

	UnknownLocation = "Unknown Location"

	userAgent = "pvmocktat/1.0"
)

// ErrFetch wraps every failure to obtain a usable reading.
var ErrFetch = errors.New("environment fetch failed")

// Reading is the current weather at a location.
type Reading struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Location    string    `json:"location"`
	Irradiance  float64   `json:"irradiance"`  // shortwave radiation, W/m²
	Temperature float64   `json:"temperature"` // 2 m air temperature, °C
	Time        time.Time `json:"time"`
}

type openMeteoResponse struct {
	Current *struct {
		Time               string   `json:"time"`
		Temperature2m      *float64 `json:"temperature_2m"`
		ShortwaveRadiation *float64 `json:"shortwave_radiation"`
	} `json:"current"`
}

type nominatimAddress struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	County  string `json:"county"`
}

type nominatimReverse struct {
	Address *nominatimAddress `json:"address"`
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type Client struct {
	weatherURL string
	geocodeURL string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithWeatherURL(u string) ClientOption {
	return func(c *Client) { c.weatherURL = u }
}

func WithGeocodeURL(u string) ClientOption {
	return func(c *Client) { c.geocodeURL = u }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		weatherURL: DefaultWeatherURL,
		geocodeURL: DefaultGeocodeURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current fetches irradiance and temperature, then a place name. A failed reverse
// geocode is tolerated and yields UnknownLocation.
func (c *Client) Current(ctx context.Context, lat, lon float64) (Reading, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current", "temperature_2m,shortwave_radiation")
	q.Set("timezone", "auto")

	var resp openMeteoResponse
	if err := c.getJSON(ctx, c.weatherURL+"?"+q.Encode(), &resp); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if resp.Current == nil || resp.Current.ShortwaveRadiation == nil || resp.Current.Temperature2m == nil {
		return Reading{}, fmt.Errorf("%w: weather data missing", ErrFetch)
	}

	r := Reading{
		Latitude:    lat,
		Longitude:   lon,
		Irradiance:  *resp.Current.ShortwaveRadiation,
		Temperature: *resp.Current.Temperature2m,
		Location:    UnknownLocation,
	}
	if t, err := time.Parse("2006-01-02T15:04", resp.Current.Time); err == nil {
		r.Time = t
	}

	name, err := c.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		klog.V(2).InfoS("Reverse geocode failed, using unknown location", "lat", lat, "lon", lon, "err", err)
	} else {
		r.Location = name
	}
	return r, nil
}

// ReverseGeocode returns the most specific of city, town, village or county.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	var resp nominatimReverse
	if err := c.getJSON(ctx, c.geocodeURL+"/reverse?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if resp.Address == nil {
		return UnknownLocation, nil
	}
	for _, name := range []string{resp.Address.City, resp.Address.Town, resp.Address.Village, resp.Address.County} {
		if name != "" {
			return name, nil
		}
	}
	return UnknownLocation, nil
}

// Search resolves a free-text place to coordinates using the first match.
func (c *Client) Search(ctx context.Context, query string) (lat, lon float64, err error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("q", query)

	var places []nominatimPlace
	if err := c.getJSON(ctx, c.geocodeURL+"/search?"+q.Encode(), &places); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if len(places) == 0 {
		return 0, 0, fmt.Errorf("%w: no match for %q", ErrFetch, query)
	}
	if lat, err = strconv.ParseFloat(places[0].Lat, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: invalid latitude %q", ErrFetch, places[0].Lat)
	}
	if lon, err = strconv.ParseFloat(places[0].Lon, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: invalid longitude %q", ErrFetch, places[0].Lon)
	}
	return lat, lon, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

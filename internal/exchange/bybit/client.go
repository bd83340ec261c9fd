package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// DemoURL is the Bybit demo trading (paper) environment
const DemoURL = "https://api-demo.bybit.com"

// Client wraps the Bybit API client with additional functionality
type Client struct {
	httpClient *bybit_api.Client
	testnet    bool
	demo       bool
	category   string
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool   // Demo trading environment
	Category  string // spot, linear, inverse, option
	BaseURL   string // overrides the environment URL
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		switch {
		case config.Demo:
			baseURL = DemoURL
		case config.Testnet:
			baseURL = bybit_api.TESTNET
		default:
			baseURL = bybit_api.MAINNET
		}
	}
	category := config.Category
	if category == "" {
		category = "linear"
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Client{
		httpClient: httpClient,
		testnet:    config.Testnet,
		demo:       config.Demo,
		category:   category,
	}
}

// Category returns the default product category for requests
func (c *Client) Category() string {
	return c.category
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	if c.demo {
		return "demo"
	} else if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/germanamz/shoppy/pkg/cart"
	"github.com/germanamz/shoppy/pkg/engine"
	"github.com/germanamz/shoppy/pkg/retailer"
	"github.com/germanamz/shoppy/pkg/shoptools"
	"github.com/germanamz/shoppy/pkg/tools/mcpserver"
)

// runMCP serves the shopping toolbox over MCP stdio so other agent hosts can
// mount the same tools. No LLM provider is needed; only the retailer section
// of the config is read, and a missing config file falls back to defaults.
func runMCP(ctx context.Context, configPath string) error {
	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = &engine.Config{}
	}

	baseURL := cfg.Retailer.BaseURL
	if baseURL == "" {
		baseURL = engine.DefaultRetailerBaseURL
	}

	client := retailer.New(baseURL)
	if cfg.Retailer.Timeout != "" {
		d, err := time.ParseDuration(cfg.Retailer.Timeout)
		if err != nil {
			return fmt.Errorf("invalid retailer timeout %q: %w", cfg.Retailer.Timeout, err)
		}
		client.Client = &http.Client{Timeout: d}
	}

	shop := shoptools.New(client, cart.NewStore())

	srv := mcpserver.New("shoppy", "1.0.0")
	srv.RegisterBox(shop.Tools())

	return srv.ServeStdio(ctx)
}

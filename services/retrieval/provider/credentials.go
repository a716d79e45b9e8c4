// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Credentials holds the API keys and endpoints for keyed providers.
//
// Credentials load once at startup from environment variables, or from a
// JSON file when hot refresh is wanted. An auth-latched breaker only
// reopens when these are refreshed, so deployments that rotate keys
// should prefer the file form with a watcher.
type Credentials struct {
	// BraveAPIKey authenticates the keyed web search provider.
	BraveAPIKey string `json:"brave_api_key,omitempty"`

	// NewsAPIKey authenticates the keyed news provider.
	NewsAPIKey string `json:"news_api_key,omitempty"`

	// InfluxToken authenticates the keyed market-data provider.
	InfluxToken string `json:"influx_token,omitempty"`

	// RefinerAPIKey authenticates the preflight refinement endpoint.
	RefinerAPIKey string `json:"refiner_api_key,omitempty"`
}

// CredentialsFromEnv builds Credentials from the conventional environment
// variables. Missing values leave the corresponding keyed provider
// unconfigured; its chain then falls straight through to the keyless
// fallback.
func CredentialsFromEnv() Credentials {
	return Credentials{
		BraveAPIKey:   os.Getenv("ALEUTIAN_BRAVE_API_KEY"),
		NewsAPIKey:    os.Getenv("ALEUTIAN_NEWSAPI_KEY"),
		InfluxToken:   os.Getenv("ALEUTIAN_INFLUX_TOKEN"),
		RefinerAPIKey: os.Getenv("ALEUTIAN_REFINER_API_KEY"),
	}
}

// Merge overlays non-empty fields of other on top of c. Used to let the
// credentials file win over environment variables without blanking keys
// the file omits.
func (c Credentials) Merge(other Credentials) Credentials {
	if other.BraveAPIKey != "" {
		c.BraveAPIKey = other.BraveAPIKey
	}
	if other.NewsAPIKey != "" {
		c.NewsAPIKey = other.NewsAPIKey
	}
	if other.InfluxToken != "" {
		c.InfluxToken = other.InfluxToken
	}
	if other.RefinerAPIKey != "" {
		c.RefinerAPIKey = other.RefinerAPIKey
	}
	return c
}

// LoadCredentials reads Credentials from a JSON file.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials file: %w", err)
	}
	return creds, nil
}

// =============================================================================
// Watcher
// =============================================================================

// CredentialWatcher watches a credentials file and invokes a callback on
// every change. The retrieval service wires the callback to reload
// provider keys and reset auth-latched breakers.
//
// Thread Safety: Safe for concurrent use. Close is idempotent.
type CredentialWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchCredentials starts watching path and calls onRefresh with the
// re-parsed Credentials after each write. Parse failures keep the previous
// credentials and log a warning rather than propagating a half-written
// file into the providers.
func WatchCredentials(path string, onRefresh func(Credentials)) (*CredentialWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create credentials watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch credentials file: %w", err)
	}

	cw := &CredentialWatcher{
		watcher: watcher,
		done:    make(chan struct{}),
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				creds, err := LoadCredentials(path)
				if err != nil {
					slog.Warn("credentials refresh skipped",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				slog.Info("credentials refreshed", slog.String("path", path))
				onRefresh(creds)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("credentials watcher error", slog.String("error", err.Error()))
			case <-cw.done:
				return
			}
		}
	}()

	return cw, nil
}

// Close stops the watcher.
func (w *CredentialWatcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.watcher.Close()
}

/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-lectern/internal/api"
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/events"
)

const (
	defaultServerURL = "http://localhost:8080"
)

const actions = "status, start, stop, pause, resume, window, devices, select, translations, translation, lookup, search, semantic, live, clear, watch"

func main() {
	var (
		serverURL   = flag.String("server", defaultServerURL, "URL of the lectern server")
		action      = flag.String("action", "status", "Action to perform: "+actions)
		query       = flag.String("q", "", "Search text, or a reference such as \"John 3:16\" for lookup and live")
		translation = flag.String("translation", "", "Translation for lookup, search and translation")
		device      = flag.String("device", "", "Device id for select")
		samples     = flag.Int("samples", 0, "Window size in samples for window")
		kinds       = flag.String("kinds", "", "Comma separated event kinds for watch")
		format      = flag.String("format", "table", "Output format: table, json")
	)
	flag.Parse()

	client := &LecternCLI{
		baseURL: strings.TrimRight(*serverURL, "/"),
		format:  *format,
		http:    &http.Client{Timeout: 60 * time.Second},
	}

	var err error
	switch *action {
	case "status":
		err = client.status()
	case "start":
		err = client.session("start", nil)
	case "stop":
		err = client.session("stop", nil)
	case "pause":
		err = client.session("pause", map[string]bool{"paused": true})
	case "resume":
		err = client.session("pause", map[string]bool{"paused": false})
	case "window":
		if *samples <= 0 {
			err = fmt.Errorf("-samples required for window action")
			break
		}
		err = client.session("window", map[string]int{"samples": *samples})
	case "devices":
		err = client.devices()
	case "select":
		err = client.selectDevice(*device)
	case "translations":
		err = client.translations(http.MethodGet, nil)
	case "translation":
		if *translation == "" {
			err = fmt.Errorf("-translation required for translation action")
			break
		}
		err = client.translations(http.MethodPost, map[string]string{"translation": *translation})
	case "lookup":
		err = client.lookup(*query, *translation)
	case "search":
		err = client.search("search", *query, *translation)
	case "semantic":
		err = client.search("semantic", *query, "")
	case "live":
		err = client.goLive(*query, *translation)
	case "clear":
		err = client.clearLive()
	case "watch":
		err = client.watch(*kinds)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown action %s\n", *action)
		fmt.Fprintf(os.Stderr, "Valid actions: %s\n", actions)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// LecternCLI talks to a running lectern server.
type LecternCLI struct {
	baseURL string
	format  string
	http    *http.Client
}

// call sends a request and decodes a 200 reply into out.
func (c *LecternCLI) call(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *LecternCLI) printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (c *LecternCLI) status() error {
	var resp api.SessionResponse
	if err := c.call(http.MethodGet, "/api/session", nil, &resp); err != nil {
		return err
	}
	return c.printSession(resp)
}

func (c *LecternCLI) session(action string, body interface{}) error {
	if action == "start" {
		fmt.Println("Starting session (the first start loads models)...")
	}
	var resp api.SessionResponse
	if err := c.call(http.MethodPost, "/api/session/"+action, body, &resp); err != nil {
		return err
	}
	return c.printSession(resp)
}

func (c *LecternCLI) printSession(s api.SessionResponse) error {
	if c.format == "json" {
		return c.printJSON(s)
	}

	fmt.Printf("Session:\n")
	fmt.Printf("  State:   %s\n", s.State)
	if s.SessionID != "" {
		fmt.Printf("  ID:      %s\n", s.SessionID)
	}
	fmt.Printf("  Paused:  %s\n", formatBool(s.Paused))
	fmt.Printf("  Window:  %d samples (%.2f s)\n", s.WindowSamples, float64(s.WindowSamples)/16000)
	fmt.Printf("  Models:  %s\n", s.Models)
	return nil
}

func (c *LecternCLI) devices() error {
	var resp api.DevicesResponse
	if err := c.call(http.MethodGet, "/api/devices", nil, &resp); err != nil {
		return err
	}
	return c.printDevices(resp)
}

func (c *LecternCLI) selectDevice(id string) error {
	var resp api.DevicesResponse
	if err := c.call(http.MethodPost, "/api/devices/select", map[string]string{"device_id": id}, &resp); err != nil {
		return err
	}
	return c.printDevices(resp)
}

func (c *LecternCLI) printDevices(resp api.DevicesResponse) error {
	if c.format == "json" {
		return c.printJSON(resp)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tDEFAULT\tSELECTED")
	fmt.Fprintln(w, "------\t-------\t--------")
	for _, d := range resp.Devices {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, formatBool(d.Default), formatBool(d.ID == resp.Selected))
	}
	return w.Flush()
}

func (c *LecternCLI) translations(method string, body interface{}) error {
	path := "/api/corpus/translations"
	if method == http.MethodPost {
		path = "/api/corpus/translation"
	}

	var resp api.TranslationsResponse
	if err := c.call(method, path, body, &resp); err != nil {
		return err
	}
	if c.format == "json" {
		return c.printJSON(resp)
	}

	for _, t := range resp.Translations {
		marker := " "
		if t == resp.Active {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, t)
	}
	fmt.Printf("\nSemantic search: %s\n", formatBool(resp.Semantic))
	return nil
}

// reference parses "John 3:16" style input.
func reference(text string) (corpus.Reference, error) {
	refs := corpus.ParseReferences(text)
	if len(refs) == 0 {
		return corpus.Reference{}, fmt.Errorf("no reference found in %q", text)
	}
	return refs[0], nil
}

func locatorQuery(ref corpus.Reference, translation string) string {
	q := url.Values{}
	q.Set("book", ref.Book)
	q.Set("chapter", strconv.Itoa(ref.Chapter))
	q.Set("verse", strconv.Itoa(ref.Verse))
	if translation != "" {
		q.Set("translation", translation)
	}
	return q.Encode()
}

func (c *LecternCLI) lookup(text, translation string) error {
	ref, err := reference(text)
	if err != nil {
		return err
	}

	var rec corpus.Record
	if err := c.call(http.MethodGet, "/api/corpus/lookup?"+locatorQuery(ref, translation), nil, &rec); err != nil {
		return err
	}
	if c.format == "json" {
		return c.printJSON(rec)
	}
	fmt.Printf("%s (%s)\n%s\n", rec.Reference(), rec.Translation, rec.Text)
	return nil
}

func (c *LecternCLI) search(kind, text, translation string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("-q required for %s action", kind)
	}

	q := url.Values{}
	q.Set("q", text)
	if translation != "" {
		q.Set("translation", translation)
	}

	var resp api.SearchResponse
	if err := c.call(http.MethodGet, "/api/corpus/"+kind+"?"+q.Encode(), nil, &resp); err != nil {
		return err
	}
	if c.format == "json" {
		return c.printJSON(resp)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tVERSION\tSCORE\tTEXT")
	fmt.Fprintln(w, "---------\t-------\t-----\t----")
	for _, m := range resp.Results {
		score := "-"
		if resp.Source == api.SearchSemantic {
			score = fmt.Sprintf("%.3f", m.Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Record.Reference(), m.Record.Translation, score, truncate(m.Record.Text, 60))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error flushing output: %w", err)
	}
	fmt.Printf("\n%d results (%s)\n", len(resp.Results), resp.Source)
	return nil
}

// goLive looks a verse up and puts it on screen, or sends the staged item
// live when text is empty.
func (c *LecternCLI) goLive(text, translation string) error {
	var body interface{}
	if strings.TrimSpace(text) != "" {
		ref, err := reference(text)
		if err != nil {
			return err
		}
		var rec corpus.Record
		if err := c.call(http.MethodGet, "/api/corpus/lookup?"+locatorQuery(ref, translation), nil, &rec); err != nil {
			return err
		}
		body = map[string]events.Tagged{"item": {Item: events.Verse{
			ID:      rec.Row,
			Book:    rec.Book,
			Chapter: rec.Chapter,
			Verse:   rec.Verse,
			Text:    rec.Text,
			Version: rec.Translation,
		}}}
	}

	var resp api.LiveResponse
	if err := c.call(http.MethodPost, "/api/live", body, &resp); err != nil {
		return err
	}
	return c.printLive(resp)
}

func (c *LecternCLI) clearLive() error {
	var resp api.LiveResponse
	if err := c.call(http.MethodDelete, "/api/live", nil, &resp); err != nil {
		return err
	}
	return c.printLive(resp)
}

func (c *LecternCLI) printLive(resp api.LiveResponse) error {
	if c.format == "json" {
		return c.printJSON(resp)
	}
	fmt.Printf("Live:   %s\n", orNone(events.Label(resp.Live.Item)))
	fmt.Printf("Staged: %s\n", orNone(events.Label(resp.Staged.Item)))
	return nil
}

// watch prints events until the server closes the stream.
func (c *LecternCLI) watch(kinds string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/events"
	if kinds != "" {
		u.RawQuery = url.Values{"kinds": {kinds}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", u.String())
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}

		if c.format == "json" {
			fmt.Println(string(data))
			continue
		}

		var e struct {
			Kind      events.Kind     `json:"kind"`
			Timestamp time.Time       `json:"timestamp"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &e); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed event: %v\n", err)
			continue
		}
		fmt.Printf("%s  %-20s %s\n", e.Timestamp.Format("15:04:05.000"), e.Kind, describe(e.Kind, e.Payload))
	}
}

// describe renders an event payload as one line.
func describe(kind events.Kind, payload json.RawMessage) string {
	switch kind {
	case events.KindSessionStatus:
		var s events.SessionStatus
		if json.Unmarshal(payload, &s) == nil {
			return fmt.Sprintf("%s: %s", s.Status, s.Message)
		}
	case events.KindTranscription:
		var u events.TranscriptionUpdate
		if json.Unmarshal(payload, &u) == nil {
			if u.DetectedItem.Item == nil {
				return fmt.Sprintf("%q", u.Text)
			}
			return fmt.Sprintf("%q -> %s [%s %.2f]", u.Text, events.Label(u.DetectedItem.Item), u.Source, u.Confidence)
		}
	case events.KindLive, events.KindStage:
		var t events.Tagged
		if json.Unmarshal(payload, &t) == nil {
			return orNone(events.Label(t.Item))
		}
	}
	return string(payload)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func formatBool(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}

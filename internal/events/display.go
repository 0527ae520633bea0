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

package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DisplayItem is what the output screen shows. The set of variants is
// closed: Verse, Media, Slide, Camera, Timer, Song and Scene.
type DisplayItem interface {
	displayItem()
}

// Verse is a scripture passage.
type Verse struct {
	ID      int    `json:"id"`
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
	Text    string `json:"text"`
	Version string `json:"version"`
}

// Media is an image or video from the media library.
type Media struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	MediaType     string `json:"media_type"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

// Slide is one page of a presentation. Custom marks operator-built decks.
type Slide struct {
	PresentationID   string `json:"presentation_id"`
	PresentationName string `json:"presentation_name"`
	SlideIndex       int    `json:"slide_index"`
	Custom           bool   `json:"custom,omitempty"`
}

// Camera is a live LAN camera feed.
type Camera struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label"`
}

// Timer is a countdown or stopwatch. StartedAt is unix milliseconds.
type Timer struct {
	TimerType    string `json:"timer_type"`
	DurationSecs int    `json:"duration_secs"`
	StartedAt    *int64 `json:"started_at,omitempty"`
}

// Song is a section of worship lyrics.
type Song struct {
	Title   string   `json:"title"`
	Section string   `json:"section,omitempty"`
	Lines   []string `json:"lines"`
}

// Scene is a composed layout; its layers are opaque to the server.
type Scene struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Layers json.RawMessage `json:"layers,omitempty"`
}

func (Verse) displayItem()  {}
func (Media) displayItem()  {}
func (Slide) displayItem()  {}
func (Camera) displayItem() {}
func (Timer) displayItem()  {}
func (Song) displayItem()   {}
func (Scene) displayItem()  {}

// Label is the one-line text shown for an item in transcript feeds.
func Label(item DisplayItem) string {
	switch v := item.(type) {
	case nil:
		return ""
	case Verse:
		return fmt.Sprintf("%s %d:%d", v.Book, v.Chapter, v.Verse)
	case Media:
		return v.Name
	case Slide:
		return fmt.Sprintf("%s – slide %d", v.PresentationName, v.SlideIndex+1)
	case Camera:
		if v.Label == "" {
			return v.DeviceID
		}
		return v.Label
	case Timer:
		return "Timer: " + v.TimerType
	case Song:
		if v.Section == "" {
			return v.Title
		}
		return fmt.Sprintf("%s – %s", v.Title, v.Section)
	case Scene:
		if v.Name == "" {
			return "Scene"
		}
		return v.Name
	default:
		panic(fmt.Sprintf("events: unhandled display item %T", item))
	}
}

func typeName(item DisplayItem) string {
	switch item.(type) {
	case Verse:
		return "Verse"
	case Media:
		return "Media"
	case Slide:
		return "Slide"
	case Camera:
		return "Camera"
	case Timer:
		return "Timer"
	case Song:
		return "Song"
	case Scene:
		return "Scene"
	default:
		panic(fmt.Sprintf("events: unhandled display item %T", item))
	}
}

// Tagged carries a DisplayItem over JSON as {"type": ..., "data": ...}.
// The zero value encodes as null.
type Tagged struct {
	Item DisplayItem
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (t Tagged) MarshalJSON() ([]byte, error) {
	if t.Item == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(t.Item)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typeName(t.Item), Data: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tagged) UnmarshalJSON(raw []byte) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		t.Item = nil
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}

	var err error
	switch env.Type {
	case "Verse":
		t.Item, err = decode[Verse](env.Data)
	case "Media":
		t.Item, err = decode[Media](env.Data)
	case "Slide":
		t.Item, err = decode[Slide](env.Data)
	case "Camera":
		t.Item, err = decode[Camera](env.Data)
	case "Timer":
		t.Item, err = decode[Timer](env.Data)
	case "Song":
		t.Item, err = decode[Song](env.Data)
	case "Scene":
		t.Item, err = decode[Scene](env.Data)
	default:
		return fmt.Errorf("unknown display item type %q", env.Type)
	}
	return err
}

func decode[T DisplayItem](data json.RawMessage) (DisplayItem, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid %T: %w", v, err)
	}
	return v, nil
}

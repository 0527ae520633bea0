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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New(KindSessionStatus, "session-1", SessionStatus{Status: StatusRunning, Message: "Live session started"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, KindSessionStatus, e.Kind)
	assert.Equal(t, "session-1", e.SessionID)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotEqual(t, e.ID, New(KindSessionStatus, "", nil).ID)
}

func TestLabel(t *testing.T) {
	started := int64(1700000000000)

	tests := []struct {
		name string
		item DisplayItem
		want string
	}{
		{"Verse", Verse{Book: "John", Chapter: 3, Verse: 16}, "John 3:16"},
		{"Media", Media{Name: "welcome.png"}, "welcome.png"},
		{"Slide is one-based", Slide{PresentationName: "Announcements", SlideIndex: 0}, "Announcements – slide 1"},
		{"Camera label", Camera{DeviceID: "cam-1", Label: "Pulpit"}, "Pulpit"},
		{"Camera falls back to device", Camera{DeviceID: "cam-1"}, "cam-1"},
		{"Timer", Timer{TimerType: "countdown", StartedAt: &started}, "Timer: countdown"},
		{"Song with section", Song{Title: "Amazing Grace", Section: "Verse 2"}, "Amazing Grace – Verse 2"},
		{"Song without section", Song{Title: "Amazing Grace"}, "Amazing Grace"},
		{"Scene", Scene{Name: "Sermon"}, "Sermon"},
		{"Unnamed scene", Scene{}, "Scene"},
		{"Nothing", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Label(tt.item))
		})
	}
}

func TestTagged_JSON(t *testing.T) {
	items := []DisplayItem{
		Verse{ID: 2, Book: "John", Chapter: 3, Verse: 16, Text: "For God so loved the world", Version: "KJV"},
		Media{ID: "m1", Name: "logo", Path: "/media/logo.png", MediaType: "image"},
		Slide{PresentationID: "p1", PresentationName: "Notices", SlideIndex: 3, Custom: true},
		Camera{DeviceID: "cam-1", Label: "Pulpit"},
		Timer{TimerType: "countdown", DurationSecs: 300},
		Song{Title: "Amazing Grace", Lines: []string{"Amazing grace", "how sweet the sound"}},
		Scene{ID: "s1", Name: "Sermon", Layers: json.RawMessage(`[{"kind":"verse"}]`)},
	}

	for _, item := range items {
		t.Run(typeName(item), func(t *testing.T) {
			data, err := json.Marshal(Tagged{Item: item})
			require.NoError(t, err)

			var env map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &env))
			assert.JSONEq(t, `"`+typeName(item)+`"`, string(env["type"]))
			assert.Contains(t, env, "data")

			var back Tagged
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, item, back.Item)
		})
	}
}

func TestTagged_Null(t *testing.T) {
	update := TranscriptionUpdate{Text: "", Confidence: 1, Source: "manual"}
	data, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"","detected_item":null,"confidence":1,"source":"manual"}`, string(data))

	var back TranscriptionUpdate
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Nil(t, back.DetectedItem.Item)
}

func TestTagged_UnknownType(t *testing.T) {
	var tagged Tagged
	err := json.Unmarshal([]byte(`{"type":"Hologram","data":{}}`), &tagged)
	assert.Error(t, err)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(1)

	first, cancelFirst := b.Subscribe()
	second, cancelSecond := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(New(KindAudioLevel, "", float32(0.1)))
	assert.Equal(t, float32(0.1), (<-first).Payload)

	// second is still holding the first event, so this one is dropped for it
	b.Publish(New(KindAudioLevel, "", float32(0.2)))
	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, float32(0.1), (<-second).Payload)
	assert.Equal(t, float32(0.2), (<-first).Payload)

	cancelFirst()
	cancelFirst()
	_, open := <-first
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())

	b.Close()
	_, open = <-second
	assert.False(t, open)
	cancelSecond()

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestMulti(t *testing.T) {
	var got []Kind
	record := SinkFunc(func(e Event) { got = append(got, e.Kind) })

	Multi{record, nil, record}.Publish(New(KindLive, "", nil))
	assert.Equal(t, []Kind{KindLive, KindLive}, got)
}

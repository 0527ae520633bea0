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

package session

import (
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/events"
)

// Stage sets the item the operator is previewing. nil clears the stage.
func (o *Orchestrator) Stage(item events.DisplayItem) {
	o.liveMu.Lock()
	o.staged = item
	o.liveMu.Unlock()

	o.sink.Publish(events.New(events.KindStage, o.SessionID(), events.Tagged{Item: item}))
}

// Staged returns the previewed item, if any.
func (o *Orchestrator) Staged() events.DisplayItem {
	o.liveMu.RLock()
	defer o.liveMu.RUnlock()
	return o.staged
}

// GoLive puts item on the output screen, or the staged item when item is
// nil. Display clients receive a manual transcription-update.
func (o *Orchestrator) GoLive(item events.DisplayItem) error {
	o.liveMu.Lock()
	if item == nil {
		item = o.staged
	}
	if item == nil {
		o.liveMu.Unlock()
		return ErrNothingStaged
	}
	o.live = item
	o.liveMu.Unlock()

	o.publishLive(item)
	return nil
}

// ClearLive blanks the output screen and the stage.
func (o *Orchestrator) ClearLive() {
	o.liveMu.Lock()
	o.live = nil
	o.staged = nil
	o.liveMu.Unlock()

	o.publishLive(nil)
	o.sink.Publish(events.New(events.KindStage, o.SessionID(), events.Tagged{}))
}

// Live returns the item on the output screen, if any.
func (o *Orchestrator) Live() events.DisplayItem {
	o.liveMu.RLock()
	defer o.liveMu.RUnlock()
	return o.live
}

// UpdateLiveTimer sets the start time of the live timer so every display
// counts from the same reference. startedAt is unix milliseconds; nil
// resets the timer.
func (o *Orchestrator) UpdateLiveTimer(startedAt *int64) error {
	o.liveMu.Lock()
	timer, ok := o.live.(events.Timer)
	if !ok {
		o.liveMu.Unlock()
		return ErrNoLiveTimer
	}
	timer.StartedAt = startedAt
	o.live = timer
	o.liveMu.Unlock()

	o.publishLive(timer)
	return nil
}

func (o *Orchestrator) publishLive(item events.DisplayItem) {
	id := o.SessionID()
	o.sink.Publish(events.New(events.KindTranscription, id, events.TranscriptionUpdate{
		Text:         events.Label(item),
		DetectedItem: events.Tagged{Item: item},
		Confidence:   1,
		Source:       string(corpus.SourceManual),
	}))
	o.sink.Publish(events.New(events.KindLive, id, events.Tagged{Item: item}))
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package checkpoint

import (
	"encoding/json"
	"sort"

	"github.com/friendsincode/audioharvest/internal/models"
)

// Counters are per-channel outcome counts.
type Counters struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// State is the durable resume record. The zero value is not ready for use;
// call NewState.
type State struct {
	CompletedChannels map[string]struct{}
	CompletedVideos   map[models.VideoID]struct{}
	LastChannelIndex  int
	PerChannel        map[string]Counters
}

// NewState returns an empty state.
func NewState() State {
	return State{
		CompletedChannels: make(map[string]struct{}),
		CompletedVideos:   make(map[models.VideoID]struct{}),
		LastChannelIndex:  -1,
		PerChannel:        make(map[string]Counters),
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := NewState()
	out.LastChannelIndex = s.LastChannelIndex
	for k := range s.CompletedChannels {
		out.CompletedChannels[k] = struct{}{}
	}
	for k := range s.CompletedVideos {
		out.CompletedVideos[k] = struct{}{}
	}
	for k, v := range s.PerChannel {
		out.PerChannel[k] = v
	}
	return out
}

// ChannelCompleted reports whether the channel URL is done.
func (s State) ChannelCompleted(url string) bool {
	_, ok := s.CompletedChannels[url]
	return ok
}

// VideoCompleted reports whether the video id is done.
func (s State) VideoCompleted(id models.VideoID) bool {
	_, ok := s.CompletedVideos[id]
	return ok
}

// MarkVideoComplete adds id to the completed set.
func (s *State) MarkVideoComplete(id models.VideoID) {
	s.CompletedVideos[id] = struct{}{}
}

// EnterChannel records the channel as the current position. Failed counts
// are reset because those videos will be attempted again.
func (s *State) EnterChannel(ch models.ChannelEntry) {
	s.LastChannelIndex = ch.Index
	c := s.PerChannel[ch.URL]
	c.Failed = 0
	s.PerChannel[ch.URL] = c
}

// RecordOutcome updates the channel counters for an outcome. Skips are not
// counted.
func (s *State) RecordOutcome(channelURL string, status models.OutcomeStatus) {
	c := s.PerChannel[channelURL]
	switch status {
	case models.StatusSuccess:
		c.Successful++
	case models.StatusFailed:
		c.Failed++
	default:
		return
	}
	s.PerChannel[channelURL] = c
}

// MarkChannelComplete adds the channel to the completed set.
func (s *State) MarkChannelComplete(ch models.ChannelEntry) {
	s.CompletedChannels[ch.URL] = struct{}{}
	s.LastChannelIndex = ch.Index
	if _, ok := s.PerChannel[ch.URL]; !ok {
		s.PerChannel[ch.URL] = Counters{}
	}
}

type stateDoc struct {
	CompletedChannels []string            `json:"completed_channels"`
	CompletedVideos   []string            `json:"completed_videos"`
	LastChannelIndex  int                 `json:"last_channel_index"`
	PerChannel        map[string]Counters `json:"per_channel"`
}

// MarshalJSON encodes sets as sorted arrays so successive saves are stable.
func (s State) MarshalJSON() ([]byte, error) {
	doc := stateDoc{
		CompletedChannels: make([]string, 0, len(s.CompletedChannels)),
		CompletedVideos:   make([]string, 0, len(s.CompletedVideos)),
		LastChannelIndex:  s.LastChannelIndex,
		PerChannel:        s.PerChannel,
	}
	if doc.PerChannel == nil {
		doc.PerChannel = map[string]Counters{}
	}
	for k := range s.CompletedChannels {
		doc.CompletedChannels = append(doc.CompletedChannels, k)
	}
	for k := range s.CompletedVideos {
		doc.CompletedVideos = append(doc.CompletedVideos, string(k))
	}
	sort.Strings(doc.CompletedChannels)
	sort.Strings(doc.CompletedVideos)
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the document form.
func (s *State) UnmarshalJSON(data []byte) error {
	doc := stateDoc{LastChannelIndex: -1}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*s = NewState()
	s.LastChannelIndex = doc.LastChannelIndex
	for _, k := range doc.CompletedChannels {
		s.CompletedChannels[k] = struct{}{}
	}
	for _, k := range doc.CompletedVideos {
		s.CompletedVideos[models.VideoID(k)] = struct{}{}
	}
	for k, v := range doc.PerChannel {
		s.PerChannel[k] = v
	}
	return nil
}

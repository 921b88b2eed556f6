package core

import (
	"github.com/goccy/go-json"

	"github.com/raainshe/qbitdash/internal/config"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

// TagPolicy decides how a partial update's "tags" list is applied
type TagPolicy string

const (
	// TagPolicyReplace replaces the tag list whenever a partial update carries one,
	// unless the update also carries tags_removed
	TagPolicyReplace TagPolicy = config.TagPolicyReplace
	// TagPolicyMerge always treats "tags" as additions and "tags_removed" as removals
	TagPolicyMerge TagPolicy = config.TagPolicyMerge
)

// Snapshot is the folded state of one instance
type Snapshot struct {
	Torrents    map[string]qbittorrent.Attributes `json:"torrents"`
	Categories  map[string]qbittorrent.Attributes `json:"categories"`
	Tags        []string                          `json:"tags"`
	ServerState json.RawMessage                   `json:"server_state"`
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Torrents:   make(map[string]qbittorrent.Attributes),
		Categories: make(map[string]qbittorrent.Attributes),
		Tags:       []string{},
	}
}

// Fold applies a maindata response to a snapshot in place.
// Full updates replace torrents, categories, tags and server state wholesale.
// Partial updates shallow-merge attributes per key, delete keys marked null or
// listed in *_removed, and replace server state when present.
func Fold(snap *Snapshot, data *qbittorrent.MainData, policy TagPolicy) {
	if data.Kind == qbittorrent.KindFull {
		snap.Torrents = copyEntries(data.Torrents)
		snap.Categories = copyEntries(data.Categories)
		snap.Tags = appendUnique([]string{}, data.Tags)
		snap.ServerState = cloneRaw(data.ServerState)
		return
	}

	if snap.Torrents == nil {
		snap.Torrents = make(map[string]qbittorrent.Attributes)
	}
	if snap.Categories == nil {
		snap.Categories = make(map[string]qbittorrent.Attributes)
	}
	if snap.Tags == nil {
		snap.Tags = []string{}
	}

	mergeEntries(snap.Torrents, data.Torrents)
	deleteKeys(snap.Torrents, data.TorrentsRemoved)
	mergeEntries(snap.Categories, data.Categories)
	deleteKeys(snap.Categories, data.CategoriesRemoved)

	if data.ServerState != nil {
		snap.ServerState = cloneRaw(data.ServerState)
	}

	switch {
	case data.TagsRemoved != nil || policy == TagPolicyMerge:
		snap.Tags = removeAll(appendUnique(snap.Tags, data.Tags), data.TagsRemoved)
	case data.HasTags:
		snap.Tags = appendUnique([]string{}, data.Tags)
	}
}

func copyEntries(entries map[string]qbittorrent.Attributes) map[string]qbittorrent.Attributes {
	out := make(map[string]qbittorrent.Attributes, len(entries))
	for key, attrs := range entries {
		if attrs == nil {
			continue
		}
		out[key] = attrs.Clone()
	}
	return out
}

func mergeEntries(dst, delta map[string]qbittorrent.Attributes) {
	for key, attrs := range delta {
		if attrs == nil {
			delete(dst, key)
			continue
		}

		existing, ok := dst[key]
		if !ok {
			dst[key] = attrs.Clone()
			continue
		}
		for field, value := range attrs {
			existing[field] = value
		}
	}
}

func deleteKeys(dst map[string]qbittorrent.Attributes, keys []string) {
	for _, key := range keys {
		delete(dst, key)
	}
}

// appendUnique appends the values not already present in list, keeping order
func appendUnique(list, values []string) []string {
	seen := make(map[string]struct{}, len(list)+len(values))
	for _, v := range list {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		list = append(list, v)
	}
	return list
}

func removeAll(list, values []string) []string {
	if len(values) == 0 {
		return list
	}
	drop := make(map[string]struct{}, len(values))
	for _, v := range values {
		drop[v] = struct{}{}
	}

	kept := list[:0]
	for _, v := range list {
		if _, ok := drop[v]; !ok {
			kept = append(kept, v)
		}
	}
	return kept
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

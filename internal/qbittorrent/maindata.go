package qbittorrent

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// DeltaKind tells the merger how to apply a maindata response
type DeltaKind int

const (
	// KindFull replaces the whole snapshot
	KindFull DeltaKind = iota
	// KindPartial carries changed attributes and null removal markers
	KindPartial
	// KindPartialWithRemovals additionally carries *_removed lists
	KindPartialWithRemovals
)

func (k DeltaKind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindPartial:
		return "partial"
	case KindPartialWithRemovals:
		return "partial_with_removals"
	default:
		return "unknown"
	}
}

// MainData is a validated /api/v2/sync/maindata response.
// A nil entry in Torrents or Categories marks that key for removal.
type MainData struct {
	RID               int64
	Kind              DeltaKind
	Torrents          map[string]Attributes
	TorrentsRemoved   []string
	Categories        map[string]Attributes
	CategoriesRemoved []string
	Tags              []string
	HasTags           bool
	TagsRemoved       []string
	ServerState       json.RawMessage // nil when absent
}

type rawMainData struct {
	RID               *int64                     `json:"rid"`
	FullUpdate        bool                       `json:"full_update"`
	Torrents          map[string]json.RawMessage `json:"torrents"`
	TorrentsRemoved   *[]string                  `json:"torrents_removed"`
	Categories        map[string]json.RawMessage `json:"categories"`
	CategoriesRemoved *[]string                  `json:"categories_removed"`
	Tags              *[]string                  `json:"tags"`
	TagsRemoved       *[]string                  `json:"tags_removed"`
	ServerState       json.RawMessage            `json:"server_state"`
}

var jsonNull = []byte("null")

// ParseMainData validates a maindata body. A request made with rid 0 always
// yields a full update, whatever the body claims.
func ParseMainData(body []byte, requestedRID int64) (*MainData, error) {
	var raw rawMainData
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw.RID == nil {
		return nil, fmt.Errorf("%w: missing rid", ErrInvalidPayload)
	}

	data := &MainData{RID: *raw.RID}

	var err error
	if data.Torrents, err = parseEntries("torrents", raw.Torrents); err != nil {
		return nil, err
	}
	if data.Categories, err = parseEntries("categories", raw.Categories); err != nil {
		return nil, err
	}

	if raw.Tags != nil {
		data.Tags = *raw.Tags
		data.HasTags = true
	}

	if !isNull(raw.ServerState) {
		if !isObject(raw.ServerState) {
			return nil, fmt.Errorf("%w: server_state is not an object", ErrInvalidPayload)
		}
		data.ServerState = append(json.RawMessage(nil), raw.ServerState...)
	}

	hasRemovals := false
	if raw.TorrentsRemoved != nil {
		data.TorrentsRemoved = *raw.TorrentsRemoved
		hasRemovals = true
	}
	if raw.CategoriesRemoved != nil {
		data.CategoriesRemoved = *raw.CategoriesRemoved
		hasRemovals = true
	}
	if raw.TagsRemoved != nil {
		data.TagsRemoved = *raw.TagsRemoved
		hasRemovals = true
	}

	switch {
	case raw.FullUpdate || requestedRID == 0:
		data.Kind = KindFull
	case hasRemovals:
		data.Kind = KindPartialWithRemovals
	default:
		data.Kind = KindPartial
	}

	return data, nil
}

func parseEntries(field string, raw map[string]json.RawMessage) (map[string]Attributes, error) {
	if raw == nil {
		return nil, nil
	}

	entries := make(map[string]Attributes, len(raw))
	for key, value := range raw {
		if isNull(value) {
			entries[key] = nil
			continue
		}
		if !isObject(value) {
			return nil, fmt.Errorf("%w: %s[%q] is not an object", ErrInvalidPayload, field, key)
		}

		attrs, err := decodeAttributes(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%q]: %v", ErrInvalidPayload, field, key, err)
		}
		entries[key] = attrs
	}
	return entries, nil
}

func decodeAttributes(value []byte) (Attributes, error) {
	decoder := json.NewDecoder(bytes.NewReader(value))
	decoder.UseNumber()

	attrs := Attributes{}
	if err := decoder.Decode(&attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func isNull(value []byte) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull)
}

func isObject(value []byte) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

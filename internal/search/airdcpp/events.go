package airdcpp

import (
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/comicsearch/internal/correlation"
	"github.com/mohammad-safakhou/comicsearch/models"
)

const (
	eventResultAdded   = "search_result_added"
	eventResultUpdated = "search_result_updated"
	eventSearchesSent  = "search_hub_searches_sent"
)

// Subscriptions are the listener paths enabled on every connection.
var Subscriptions = []string{
	"search/listeners/" + eventResultAdded,
	"search/listeners/" + eventResultUpdated,
	"search/listeners/" + eventSearchesSent,
}

// frame is either an event ({event, id, data}) or a reply to a request ({callback_id, code}).
type frame struct {
	Event      string          `json:"event"`
	ID         json.RawMessage `json:"id"`
	Data       json.RawMessage `json:"data"`
	CallbackID int             `json:"callback_id"`
	Code       int             `json:"code"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type request struct {
	CallbackID int         `json:"callback_id"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	Data       interface{} `json:"data,omitempty"`
}

// wireResult.ID is numeric or a string depending on the API version.
type wireResult struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Size  int64           `json:"size"`
	TTH   string          `json:"tth"`
	Hits  int             `json:"hits"`
	Path  string          `json:"path"`
	Type  struct {
		ID  string `json:"id"`
		Str string `json:"str"`
	} `json:"type"`
	Slots struct {
		Free  int    `json:"free"`
		Total int    `json:"total"`
		Str   string `json:"str"`
	} `json:"slots"`
	Users struct {
		Count int `json:"count"`
	} `json:"users"`
}

func (w wireResult) partial() models.PartialResult {
	return models.PartialResult{
		ID:     instanceID(w.ID),
		Name:   w.Name,
		Source: models.SourceAirDCPP,
		Metadata: map[string]interface{}{
			"size":  w.Size,
			"tth":   w.TTH,
			"hits":  w.Hits,
			"path":  w.Path,
			"type":  w.Type.Str,
			"slots": w.Slots.Str,
			"users": w.Users.Count,
		},
	}
}

// DecodeEvent turns a websocket frame into a correlation event. ok is false for request
// replies and for events the pipeline does not consume.
func DecodeEvent(raw []byte) (ev correlation.Event, ok bool, err error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ev, false, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Event {
	case eventResultAdded:
		ev.Kind = correlation.EventResultAdded
	case eventResultUpdated:
		ev.Kind = correlation.EventResultUpdated
	case eventSearchesSent:
		ev.Kind = correlation.EventSearchesSent
	default:
		return ev, false, nil
	}
	ev.InstanceID = instanceID(f.ID)
	if ev.InstanceID == "" {
		return ev, false, fmt.Errorf("%s event without instance id", f.Event)
	}
	if ev.Kind == correlation.EventSearchesSent {
		return ev, true, nil
	}

	var grouped struct {
		Result *wireResult `json:"result"`
	}
	if err := json.Unmarshal(f.Data, &grouped); err != nil {
		return ev, false, fmt.Errorf("decode %s data: %w", f.Event, err)
	}
	if grouped.Result == nil {
		var flat wireResult
		if err := json.Unmarshal(f.Data, &flat); err != nil {
			return ev, false, fmt.Errorf("decode %s data: %w", f.Event, err)
		}
		grouped.Result = &flat
	}
	ev.Result = grouped.Result.partial()
	if ev.Result.ID == "" {
		return ev, false, fmt.Errorf("%s event for instance %s has no result id", f.Event, ev.InstanceID)
	}
	return ev, true, nil
}

package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEvent = errors.New("malformed event")

type Event struct {
	Request  Request  `json:"request"`
	Response Response `json:"response"`
}

type Request struct {
	Source  string            `json:"source"`
	Answers map[string]Answer `json:"answers"`
}

type Response struct {
	ID string `json:"id"`
}

// Answer is either a single string or a list of string maps. Exactly one of
// the two forms is set after decoding.
type Answer struct {
	Simple     *string
	Collection []map[string]string
}

func SimpleAnswer(v string) Answer {
	return Answer{Simple: &v}
}

func CollectionAnswer(v ...map[string]string) Answer {
	if v == nil {
		v = []map[string]string{}
	}
	return Answer{Collection: v}
}

func (a Answer) IsCollection() bool {
	return a.Simple == nil
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("empty answer")
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = SimpleAnswer(s)
		return nil
	case '[':
		var c []map[string]string
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		*a = CollectionAnswer(c...)
		return nil
	default:
		return fmt.Errorf("answer must be a string or a list of objects, got %s", b)
	}
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Simple != nil {
		return json.Marshal(*a.Simple)
	}
	return json.Marshal(a.Collection)
}

type rawEvent struct {
	Request *struct {
		Source  *string           `json:"source"`
		Answers map[string]Answer `json:"answers"`
	} `json:"request"`
	Response *struct {
		ID *string `json:"id"`
	} `json:"response"`
}

// ParseEvent decodes an event payload. Every failure wraps ErrMalformedEvent.
func ParseEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	switch {
	case raw.Request == nil:
		return Event{}, fmt.Errorf("%w: missing request", ErrMalformedEvent)
	case raw.Request.Source == nil:
		return Event{}, fmt.Errorf("%w: missing request.source", ErrMalformedEvent)
	case raw.Request.Answers == nil:
		return Event{}, fmt.Errorf("%w: missing request.answers", ErrMalformedEvent)
	case raw.Response == nil:
		return Event{}, fmt.Errorf("%w: missing response", ErrMalformedEvent)
	case raw.Response.ID == nil:
		return Event{}, fmt.Errorf("%w: missing response.id", ErrMalformedEvent)
	}

	return Event{
		Request: Request{
			Source:  *raw.Request.Source,
			Answers: raw.Request.Answers,
		},
		Response: Response{ID: *raw.Response.ID},
	}, nil
}

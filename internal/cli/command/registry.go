package command

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const currentMatch = "$match"

// Registry returns all CLI commands keyed by "group action".
func Registry() map[string]Command {
	matchID := Field{Name: "match_id", Aliases: []string{"id"}, Prompt: "match_id", Type: FieldString, Required: true, Wire: "matchId", Default: currentMatch}
	commands := []Command{
		{
			Group:        "server",
			Action:       "health",
			Help:         "probe the store and database",
			Transport:    TransportHTTP,
			Method:       "GET",
			PathTemplate: "/health",
		},
		{
			Group:        "match",
			Action:       "get",
			Help:         "show one match",
			Transport:    TransportHTTP,
			Method:       "GET",
			PathTemplate: "/api/v1/matches/:match_id",
			Fields:       []Field{matchID},
		},
		{
			Group:        "match",
			Action:       "history",
			Help:         "list your finished matches",
			Transport:    TransportHTTP,
			Method:       "GET",
			PathTemplate: "/api/v1/matches/user/history",
			Fields: []Field{
				{Name: "limit", Prompt: "limit", Type: FieldInt, Wire: "limit"},
				{Name: "offset", Prompt: "offset", Type: FieldInt, Wire: "offset"},
			},
		},
		{
			Group:        "match",
			Action:       "active",
			Help:         "show your running match",
			Transport:    TransportHTTP,
			Method:       "GET",
			PathTemplate: "/api/v1/matches/user/active",
		},
		{
			Group:        "admin",
			Action:       "cancel",
			Help:         "cancel a running match",
			Transport:    TransportHTTP,
			Method:       "POST",
			PathTemplate: "/api/v1/admin/matches/:match_id/cancel",
			Fields:       []Field{{Name: "match_id", Aliases: []string{"id"}, Prompt: "match_id", Type: FieldString, Required: true}},
		},
		{
			Group:     "lobby",
			Action:    "join",
			Help:      "enter the matchmaking queue",
			Transport: TransportEvent,
			Event:     "join_lobby",
		},
		{
			Group:     "lobby",
			Action:    "leave",
			Help:      "leave the matchmaking queue",
			Transport: TransportEvent,
			Event:     "leave_lobby",
		},
		{
			Group:     "lobby",
			Action:    "say",
			Help:      "post to the lobby chat",
			Transport: TransportEvent,
			Event:     "send_lobby_message",
			Payload:   PayloadScalar,
			Fields:    []Field{{Name: "text", Prompt: "message", Type: FieldString, Required: true}},
		},
		{
			Group:     "lobby",
			Action:    "matches",
			Help:      "list running matches",
			Transport: TransportEvent,
			Event:     "get_active_matches",
		},
		{
			Group:     "duel",
			Action:    "join",
			Help:      "rejoin a match room",
			Transport: TransportEvent,
			Event:     "join_match",
			Payload:   PayloadScalar,
			Fields:    []Field{matchID},
		},
		{
			Group:     "duel",
			Action:    "run",
			Help:      "run code against the visible tests",
			Transport: TransportEvent,
			Event:     "run_code",
			Payload:   PayloadObject,
			Fields:    codeFields(matchID),
		},
		{
			Group:     "duel",
			Action:    "submit",
			Help:      "submit code against every test",
			Transport: TransportEvent,
			Event:     "submit_code",
			Payload:   PayloadObject,
			Fields:    codeFields(matchID),
		},
		{
			Group:     "duel",
			Action:    "sync",
			Help:      "share your current code",
			Transport: TransportEvent,
			Event:     "code_update",
			Payload:   PayloadObject,
			Fields: []Field{
				matchID,
				{Name: "file", Prompt: "source file", Type: FieldFile, Required: true, Wire: "code"},
			},
		},
		{
			Group:     "duel",
			Action:    "say",
			Help:      "post to the match chat",
			Transport: TransportEvent,
			Event:     "send_match_message",
			Payload:   PayloadObject,
			Fields: []Field{
				matchID,
				{Name: "text", Prompt: "message", Type: FieldString, Required: true, Wire: "content"},
			},
		},
		{
			Group:     "duel",
			Action:    "forfeit",
			Help:      "give up the match",
			Transport: TransportEvent,
			Event:     "forfeit_match",
			Payload:   PayloadScalar,
			Fields:    []Field{matchID},
		},
		{
			Group:     "spectate",
			Action:    "join",
			Help:      "watch a running match",
			Transport: TransportEvent,
			Event:     "join_spectator",
			Payload:   PayloadScalar,
			Fields:    []Field{{Name: "match_id", Aliases: []string{"id"}, Prompt: "match_id", Type: FieldString, Required: true}},
		},
		{
			Group:     "spectate",
			Action:    "leave",
			Help:      "stop watching",
			Transport: TransportEvent,
			Event:     "leave_spectator",
			Payload:   PayloadScalar,
			Fields:    []Field{{Name: "match_id", Aliases: []string{"id"}, Prompt: "match_id", Type: FieldString, Required: true}},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

func codeFields(matchID Field) []Field {
	return []Field{
		matchID,
		{Name: "lang", Aliases: []string{"language"}, Prompt: "language", Type: FieldString, Required: true, Wire: "language"},
		{Name: "file", Prompt: "source file", Type: FieldFile, Required: true, Wire: "code"},
	}
}

// Keys returns the registry keys in display order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Resolve fills defaults and reports the required fields still missing.
// current is the match the session is in, if any.
func Resolve(cmd Command, params Params, current string) []Field {
	params.Canonicalize(cmd.Fields)
	var missing []Field
	for _, field := range cmd.Fields {
		if params.Get(field.Name) != "" {
			continue
		}
		switch {
		case field.Default == currentMatch && current != "":
			params.Set(field.Name, current)
		case field.Default != "" && field.Default != currentMatch:
			params.Set(field.Name, field.Default)
		case field.Required:
			missing = append(missing, field)
		}
	}
	return missing
}

// BuildRequest creates the HTTP request spec of an HTTP command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	if cmd.Transport != TransportHTTP {
		return RequestSpec{}, fmt.Errorf("%s is not an http command", cmd.Key())
	}
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, cmd.Fields, params)
	if err != nil {
		return RequestSpec{}, err
	}

	query := url.Values{}
	for _, field := range cmd.Fields {
		if field.Wire == "" || strings.Contains(cmd.PathTemplate, ":"+field.Name) {
			continue
		}
		value := params.Get(field.Name)
		if value == "" {
			continue
		}
		if field.Type == FieldInt {
			if _, err := ParseInt(value); err != nil {
				return RequestSpec{}, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		}
		query.Set(field.Wire, value)
	}
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	return RequestSpec{Method: cmd.Method, Path: path}, nil
}

// BuildEvent creates the frame of an event command.
func BuildEvent(cmd Command, params Params) (EventSpec, error) {
	if cmd.Transport != TransportEvent {
		return EventSpec{}, fmt.Errorf("%s is not a session command", cmd.Key())
	}
	params.Canonicalize(cmd.Fields)
	spec := EventSpec{Event: cmd.Event}

	switch cmd.Payload {
	case PayloadNone:
	case PayloadScalar:
		if len(cmd.Fields) == 0 {
			return EventSpec{}, fmt.Errorf("%s has no payload field", cmd.Key())
		}
		value, err := fieldValue(cmd.Fields[0], params)
		if err != nil {
			return EventSpec{}, err
		}
		spec.Data = value
	case PayloadObject:
		payload := make(map[string]string, len(cmd.Fields))
		for _, field := range cmd.Fields {
			value, err := fieldValue(field, params)
			if err != nil {
				return EventSpec{}, err
			}
			if field.Wire != "" {
				payload[field.Wire] = value
			}
		}
		spec.Data = payload
	}
	return spec, nil
}

func fieldValue(field Field, params Params) (string, error) {
	value := params.Get(field.Name)
	if value == "" && field.Required {
		return "", fmt.Errorf("%s is required", field.Name)
	}
	if field.Type == FieldFile && value != "" {
		return ReadFile(value)
	}
	return value, nil
}

func buildPath(template string, fields []Field, params Params) (string, error) {
	path := template
	for _, field := range fields {
		placeholder := ":" + field.Name
		if !strings.Contains(path, placeholder) {
			continue
		}
		value := params.Get(field.Name)
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", field.Name)
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	return path, nil
}

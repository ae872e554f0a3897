package timeline

import (
	"fmt"
	"strings"

	"merchantrisk/internal/model"
)

var eventTypes = []model.EventType{model.EventRoundAmount, model.EventLateNight, model.EventSuddenSpike}

// ParseEventType accepts the display name or a short alias such as "late_night".
func ParseEventType(value string) (model.EventType, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "round_amount", "round":
		return model.EventRoundAmount, nil
	case "late_night", "night":
		return model.EventLateNight, nil
	case "sudden_spike", "spike":
		return model.EventSuddenSpike, nil
	}
	for _, et := range eventTypes {
		if strings.ToLower(string(et)) == v {
			return et, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", value)
}

// Filter keeps events whose type is listed. An empty list keeps everything.
func Filter(events []model.TimelineEvent, types []model.EventType) []model.TimelineEvent {
	if len(types) == 0 {
		return events
	}
	keep := make(map[model.EventType]struct{}, len(types))
	for _, t := range types {
		keep[t] = struct{}{}
	}
	out := make([]model.TimelineEvent, 0, len(events))
	for _, ev := range events {
		if _, ok := keep[ev.EventType]; ok {
			out = append(out, ev)
		}
	}
	return out
}

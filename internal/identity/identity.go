package identity

import (
	"errors"
	"regexp"
	"strings"

	"streakline/internal/domain"
)

var (
	ErrUnknownMention   = errors.New("no participant matches that mention")
	ErrAmbiguousMention = errors.New("mention is ambiguous; use the participant id")
)

var mentionPattern = regexp.MustCompile(`^<@!?([^<>@\s]+)>$`)

// ResolveMention maps user-supplied text to a participant id. It accepts
// chat mentions (<@id>, <@!id>), @name matched case-insensitively, and a bare
// participant id.
func ResolveMention(agg *domain.Aggregate, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrUnknownMention
	}
	if m := mentionPattern.FindStringSubmatch(text); m != nil {
		if _, ok := agg.Participant(m[1]); ok {
			return m[1], nil
		}
		return "", ErrUnknownMention
	}
	if _, ok := agg.Participant(text); ok {
		return text, nil
	}
	name := strings.TrimPrefix(text, "@")
	var match string
	for _, p := range agg.ListParticipants() {
		if strings.EqualFold(p.Name, name) {
			if match != "" {
				return "", ErrAmbiguousMention
			}
			match = p.ID
		}
	}
	if match == "" {
		return "", ErrUnknownMention
	}
	return match, nil
}

package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"radar-engine/internal/domain"
)

var (
	codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```\\s*$")
	objectRe    = regexp.MustCompile(`(?s)\{.*\}`)
)

type aiReply struct {
	Intent     string          `json:"intent"`
	Confidence json.RawMessage `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// parseReply decodes the backend's JSON answer. A well-formed reply naming an
// unknown category is NOISE with known=false; anything unparseable is a
// *domain.MalformedResponseError.
func parseReply(raw string) (c Classification, known bool, err error) {
	text := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(text, "{") {
		if obj := objectRe.FindString(text); obj != "" {
			text = obj
		}
	}

	var r aiReply
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return Classification{}, false, &domain.MalformedResponseError{Raw: raw, Err: err}
	}
	if strings.TrimSpace(r.Intent) == "" {
		return Classification{}, false, &domain.MalformedResponseError{Raw: raw, Err: errors.New("missing intent")}
	}

	conf, err := parseConfidence(r.Confidence)
	if err != nil {
		return Classification{}, false, &domain.MalformedResponseError{Raw: raw, Err: err}
	}

	c = Classification{Confidence: conf, Reasoning: strings.TrimSpace(r.Reasoning), Source: SourceAI, Raw: raw}
	in, ok := domain.ParseIntent(r.Intent)
	if !ok {
		c.Intent = domain.IntentNoise
		return c, false, nil
	}
	c.Intent = in
	return c, true, nil
}

func parseConfidence(b json.RawMessage) (float64, error) {
	if len(b) == 0 || string(b) == "null" {
		return 0.5, nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		var s string
		if json.Unmarshal(b, &s) != nil {
			return 0, fmt.Errorf("confidence: %w", err)
		}
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err != nil {
			return 0, fmt.Errorf("confidence %q: %w", s, err)
		}
	}
	return min(max(f, 0), 1), nil
}

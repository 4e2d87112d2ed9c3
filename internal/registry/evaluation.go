package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var errMistyped = errors.New("mistyped field")

// DecodeEvaluation decodes a structured breakdown field by field. A value
// of the wrong type is coerced when the intent is plain ("9" as a score,
// "yes" as a flag, a lone string as a list); a field that still does not
// fit is left zero and named in skipped. The object as received is kept
// in Extra.
func DecodeEvaluation(raw json.RawMessage) (eval Evaluation, skipped []string, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Evaluation{}, nil, fmt.Errorf("decoding evaluation: %w", err)
	}
	eval.Extra = append(json.RawMessage(nil), bytes.TrimSpace(raw)...)

	targets := map[string]any{
		"overall_score":           &eval.OverallScore,
		"overall_comment":         &eval.OverallComment,
		"meeting_qualified":       &eval.MeetingQualified,
		"weekly_contest_eligible": &eval.WeeklyContestEligible,
		"pushback_quality":        &eval.PushbackQuality,
		"objections_deployed":     &eval.ObjectionsDeployed,
		"quoted_examples":         &eval.QuotedExamples,
		"coaching_provided":       &eval.CoachingProvided,
	}
	for _, key := range sortedKeys(targets) {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if decodeField(v, targets[key]) != nil {
			skipped = append(skipped, key)
		}
	}

	if v, ok := fields["category_scores"]; ok {
		cs, bad := decodeCategoryScores(v)
		eval.CategoryScores = cs
		skipped = append(skipped, bad...)
	}
	return eval, skipped, nil
}

func decodeCategoryScores(raw json.RawMessage) (*CategoryScores, []string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, nil
		}
		return nil, []string{"category_scores"}
	}

	var cs CategoryScores
	targets := map[string]any{
		"opening_preparation": &cs.OpeningPreparation,
		"objection_handling":  &cs.ObjectionHandling,
		"peer_discourse":      &cs.PeerDiscourse,
		"business_value":      &cs.BusinessValue,
		"professionalism":     &cs.Professionalism,
	}
	var skipped []string
	for _, key := range sortedKeys(targets) {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if decodeField(v, targets[key]) != nil {
			skipped = append(skipped, "category_scores."+key)
		}
	}
	return &cs, skipped
}

// decodeField decodes raw into target, coercing scalars written as the
// wrong JSON type. On failure target is left zero.
func decodeField(raw json.RawMessage, target any) error {
	if err := json.Unmarshal(raw, target); err == nil {
		return nil
	}

	text := strings.TrimSpace(string(raw))
	var s string
	quoted := json.Unmarshal(raw, &s) == nil
	if quoted {
		s = strings.TrimSpace(s)
	}

	switch t := target.(type) {
	case *float64:
		*t = 0
		if quoted {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				*t = f
				return nil
			}
		}
	case *bool:
		*t = false
		if quoted {
			switch strings.ToLower(s) {
			case "true", "yes", "y":
				*t = true
				return nil
			case "false", "no", "n":
				return nil
			}
		}
	case *string:
		*t = ""
		if text != "" && text[0] != '{' && text[0] != '[' {
			*t = text
			return nil
		}
	case *[]string:
		*t = nil
		if quoted {
			if s != "" {
				*t = []string{s}
			}
			return nil
		}
	case *[]QuotedExample:
		*t = nil
	}
	return errMistyped
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON emits the breakdown as received, with the typed fields
// filling in any key it lacked.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	type plain Evaluation
	typed, err := json.Marshal(plain(e))
	if err != nil || len(e.Extra) == 0 {
		return typed, err
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(e.Extra, &out); err != nil || out == nil {
		return typed, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes leniently; see DecodeEvaluation.
func (e *Evaluation) UnmarshalJSON(data []byte) error {
	eval, _, err := DecodeEvaluation(data)
	if err != nil {
		return err
	}
	*e = eval
	return nil
}

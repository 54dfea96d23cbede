package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"causeway/internal/pkg/jsonutil"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// judgmentSchema matches what the judge prompt demands. edge may come back
// as 0/1 or a boolean depending on the model.
const judgmentSchema = `{
  "type": "object",
  "required": ["edge", "polarity", "confidence"],
  "properties": {
    "edge": {"type": ["boolean", "integer"]},
    "polarity": {"type": "integer"},
    "confidence": {"type": "number"},
    "rationale": {"type": "string"}
  }
}`

var compiledJudgmentSchema = jsonschema.MustCompileString("judgment.json", judgmentSchema)

// ParseJudgment extracts and validates a Judgment from raw model output.
// It tolerates code fences, leading prose, and a verdict nested under a
// "judge" key, but rejects anything that fails the schema or range checks.
func ParseJudgment(raw string) (Judgment, error) {
	obj, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return Judgment{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidJudgment)
	}
	if !gjson.Valid(obj) {
		return Judgment{}, fmt.Errorf("%w: malformed JSON", ErrInvalidJudgment)
	}
	parsed := gjson.Parse(obj)
	if nested := parsed.Get("judge"); nested.Exists() && nested.IsObject() {
		parsed = nested
		obj = nested.Raw
	}

	doc, err := decodeForSchema(obj)
	if err != nil {
		return Judgment{}, fmt.Errorf("%w: %v", ErrInvalidJudgment, err)
	}
	if err := compiledJudgmentSchema.Validate(doc); err != nil {
		return Judgment{}, fmt.Errorf("%w: %v", ErrInvalidJudgment, err)
	}

	j := Judgment{
		Edge:       parsed.Get("edge").Bool(),
		Polarity:   int(parsed.Get("polarity").Int()),
		Confidence: parsed.Get("confidence").Float(),
		Rationale:  strings.TrimSpace(parsed.Get("rationale").String()),
	}
	if err := j.Validate(); err != nil {
		return Judgment{}, err
	}
	return j, nil
}

// ParseExpertVote extracts an expert vote object. It only feeds the judge
// prompt, so it stays permissive: any JSON object passes.
func ParseExpertVote(raw string) (map[string]any, error) {
	obj, ok := jsonutil.ExtractJSON(raw)
	if !ok || !gjson.Valid(obj) {
		return nil, fmt.Errorf("no JSON object in expert response")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeForSchema(obj string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

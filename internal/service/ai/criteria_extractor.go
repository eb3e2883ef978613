package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

// ExtractCriteria asks the model to turn a follow-up the rule parser could not read into filter
// criteria. An empty result with a nil error means the model found nothing usable either.
func (s *Service) ExtractCriteria(ctx context.Context, message string, categories []string) (camp.FilterCriteria, error) {
	input := map[string]any{
		"message":    strings.TrimSpace(message),
		"categories": strings.Join(categories, ", "),
	}

	msg, err := s.extractor.Invoke(ctx, input)
	if err != nil {
		return camp.FilterCriteria{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if msg == nil {
		return camp.FilterCriteria{}, nil
	}

	criteria, ok := parseCriteriaJSON(msg.Content)
	if !ok {
		s.logger.Warn("criteria extraction returned no json", zap.Int("length", len(msg.Content)))
		return camp.FilterCriteria{}, nil
	}
	return criteria, nil
}

// parseCriteriaJSON reads the first JSON object in content. Unknown or malformed fields are ignored.
func parseCriteriaJSON(content string) (camp.FilterCriteria, bool) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return camp.FilterCriteria{}, false
	}
	doc := trimmed[start : end+1]
	if !gjson.Valid(doc) {
		return camp.FilterCriteria{}, false
	}

	var out camp.FilterCriteria
	for _, c := range gjson.Get(doc, "categories").Array() {
		if v := strings.TrimSpace(c.String()); v != "" {
			out.Categories = append(out.Categories, strings.ToLower(v))
		}
	}
	out.Location = strings.TrimSpace(gjson.Get(doc, "location").String())
	out.MaxPrice = positiveFloat(gjson.Get(doc, "max_price"))
	out.MinPrice = positiveFloat(gjson.Get(doc, "min_price"))
	out.MaxDistanceMiles = positiveFloat(gjson.Get(doc, "max_distance_miles"))

	if age := gjson.Get(doc, "age"); age.Type == gjson.Number && age.Int() > 0 {
		v := int(age.Int())
		out.Age = &v
	}
	if ceiling := gjson.Get(doc, "max_age"); ceiling.Type == gjson.Number && ceiling.Int() > 0 {
		v := int(ceiling.Int())
		out.AgeCeiling = &v
	}
	if grade := gjson.Get(doc, "grade"); grade.Type == gjson.Number && grade.Int() >= 0 && grade.Int() <= 12 {
		lo, hi := int(grade.Int()), int(grade.Int())
		out.MinGrade, out.MaxGrade = &lo, &hi
	}

	first := gjson.Get(doc, "first_n")
	position := gjson.Get(doc, "position")
	switch {
	case first.Type == gjson.Number && first.Int() > 0:
		out.Ordinal = &camp.Ordinal{Start: 0, Count: int(first.Int())}
	case position.Type == gjson.Number && position.Int() > 0:
		out.Ordinal = &camp.Ordinal{Start: int(position.Int()) - 1, Count: 1}
	}
	return out, true
}

func positiveFloat(r gjson.Result) *float64 {
	if r.Type != gjson.Number || r.Float() <= 0 {
		return nil
	}
	v := r.Float()
	return &v
}

// 模板使用 FString 渲染，提示词正文里不能出现花括号。
const extractSystemPrompt = "You convert a parent's follow-up question about a list of summer camps into filter criteria.\n" +
	"Reply with exactly one JSON object and nothing else. Allowed keys: categories (array of strings taken from the known categories), " +
	"location (city name or two-letter US state code), max_price and min_price (USD per week), max_distance_miles, age (years), " +
	"max_age (oldest child age to cover, so kids under 10 is 9), " +
	"grade (0 for kindergarten through 12), first_n (keep the first N results), position (1-based single result).\n" +
	"Omit every key the message does not clearly state. If nothing applies, reply with an empty JSON object."

const extractUserPrompt = "Known categories: {categories}\n\nFollow-up message: {message}"

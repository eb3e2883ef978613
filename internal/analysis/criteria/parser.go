package criteria

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

// DefaultActivities 是目录之外也能识别的活动词。
var DefaultActivities = []string{
	"soccer", "basketball", "baseball", "softball", "football", "tennis", "volleyball", "lacrosse",
	"golf", "swimming", "swim", "sailing", "gymnastics", "martial arts", "karate", "dance",
	"art", "arts", "crafts", "music", "theater", "theatre", "drama", "film", "photography",
	"writing", "science", "stem", "robotics", "coding", "programming", "math", "chess",
	"nature", "outdoor", "outdoors", "hiking", "horseback", "equestrian", "cooking",
	"leadership", "language", "academic", "sports",
}

// Vocabulary 提供解析时可识别的类别与地名。
type Vocabulary struct {
	Categories []string
	Places     []string
}

// Parser 基于规则从一句话里提取筛选条件。
type Parser struct {
	categories []term
	places     []term
}

type term struct {
	text    string
	pattern *regexp.Regexp
}

// NewParser 合并默认活动词与目录词表。
func NewParser(vocab Vocabulary) *Parser {
	return &Parser{
		categories: buildTerms(append(append([]string(nil), DefaultActivities...), vocab.Categories...), `s?`),
		places:     buildTerms(vocab.Places, ``),
	}
}

func buildTerms(words []string, suffix string) []term {
	seen := make(map[string]struct{}, len(words))
	out := make([]term, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, term{
			text:    w,
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + suffix + `\b`),
		})
	}
	// 长词优先，"martial arts" 先于 "arts"
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].text) > len(out[j].text) })
	return out
}

var (
	betweenPricePattern = regexp.MustCompile(`between\s*\$?\s*(\d[\d,]*(?:\.\d+)?)\s*(?:and|-|to)\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`)
	maxPricePattern     = regexp.MustCompile(`(under|less than|below|cheaper than|at most|no more than|up to|max(?:imum)?(?: of)?|budget(?: of| is)?)\s*(\$)?\s*(\d[\d,]*(?:\.\d+)?)(\s*k\b)?(\s*[a-z]+)?`)
	currencySuffix      = regexp.MustCompile(`^\s*(?:dollars?|bucks|usd|(?:per|a|each|/)\s*(?:week|wk)|weekly)\b`)
	priceContext        = regexp.MustCompile(`\b(?:price[sd]?|pricing|cost(?:s|ing)?|budget|afford|pay|fees?|tuition|cheap(?:er)?)\b`)
	ageCeilingPattern   = regexp.MustCompile(`\b(?:kids?|children|child|ages?|aged)\s+(under|below|younger than|less than|up to|through|thru)\s+(\d{1,2}|[a-z]+)(?:\s*(?:-\s*)?(?:years?|yrs?)(?:\s*-?\s*old)?)?\b`)
	dollarCapPattern    = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d+)?)\s*(?:or less|or under|or cheaper|max)\b`)
	minPricePattern     = regexp.MustCompile(`(?:over|more than|above|at least|minimum(?: of)?)\s*\$\s*(\d[\d,]*(?:\.\d+)?)`)
	distancePattern     = regexp.MustCompile(`(?:within|under|less than|closer than|no more than|up to|max(?:imum)?(?: of)?)\s*(\d+(?:\.\d+)?)\s*(miles?|mi|km|kilometers?|kilometres?)\b`)
	agePattern          = regexp.MustCompile(`\b(\d{1,2})\s*(?:-\s*)?(?:years?|yrs?)(?:\s*-?\s*old)?\b|\b(\d{1,2})\s*yo\b|\bages?\s+(\d{1,2})\b`)
	gradePattern        = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+grade(?:rs?)?\b|\bgrade\s+(\d{1,2})\b|\b([a-z]+)\s+grade(?:rs?)?\b`)
	kindergartenPattern = regexp.MustCompile(`\b(?:kindergarten|pre-?k|kinder)\b`)
	leadingOrdinal      = regexp.MustCompile(`\b(first|top)\s+(\d+|[a-z]+)\b`)
	trailingOrdinal     = regexp.MustCompile(`\blast\s+(\d+|[a-z]+)\b`)
	singleOrdinal       = regexp.MustCompile(`\b(?:the\s+)?(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|1st|2nd|3rd|4th|5th|6th|7th|8th|9th|10th|last)\s+(?:one|camp|option|result|listing)\b`)
	numberRefPattern    = regexp.MustCompile(`(?:#\s*|\bnumber\s+|\bno\.\s*)(\d{1,2})\b`)
	stateCodePattern    = regexp.MustCompile(`\b(?:in|near|around)\s+([A-Z]{2})\b`)
)

var stateTerms = buildTerms(geo.StateNames(), ``)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "couple": 2, "few": 3,
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
	"seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10, "eleventh": 11, "twelfth": 12,
	"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5, "6th": 6, "7th": 7, "8th": 8,
	"9th": 9, "10th": 10, "11th": 11, "12th": 12,
}

// Parse 提取消息中显式给出的条件，未提及的字段保持为空。
func (p *Parser) Parse(text string) camp.FilterCriteria {
	lower := strings.ToLower(strings.TrimSpace(text))
	var out camp.FilterCriteria
	if lower == "" {
		return out
	}

	out.Categories = p.matchCategories(lower)
	out.Location = p.matchLocation(text, lower)
	out.MaxDistanceMiles = parseDistance(lower)
	if rest, ceiling, ok := parseAgeCeiling(lower); ok {
		out.AgeCeiling = &ceiling
		lower = rest
	}
	out.MinPrice, out.MaxPrice = parsePrice(lower)
	if age, ok := parseAge(lower); ok {
		out.Age = &age
	}
	if grade, ok := ParseGrade(lower); ok {
		g1, g2 := grade, grade
		out.MinGrade, out.MaxGrade = &g1, &g2
	}
	out.Ordinal = parseOrdinal(lower)
	return out
}

func (p *Parser) matchCategories(lower string) []string {
	var found []string
	consumed := lower
	for _, t := range p.categories {
		loc := t.pattern.FindStringIndex(consumed)
		if loc == nil {
			continue
		}
		found = append(found, t.text)
		// 防止 "martial arts" 再命中 "arts"
		consumed = consumed[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + consumed[loc[1]:]
	}
	return found
}

func (p *Parser) matchLocation(raw, lower string) string {
	for _, t := range p.places {
		if t.pattern.MatchString(lower) {
			return t.text
		}
	}
	for _, t := range stateTerms {
		if t.pattern.MatchString(lower) {
			code, _ := geo.LookupState(t.text)
			return code
		}
	}
	// 两字母州缩写只认大写，避免把 "in me" 当成缅因州
	if m := stateCodePattern.FindStringSubmatch(raw); m != nil {
		if code, ok := geo.LookupState(m[1]); ok {
			return code
		}
	}
	return ""
}

func parsePrice(lower string) (minPrice, maxPrice *float64) {
	if m := betweenPricePattern.FindStringSubmatch(lower); m != nil {
		lo, okLo := parseAmount(m[1])
		hi, okHi := parseAmount(m[2])
		if okLo && okHi {
			if lo > hi {
				lo, hi = hi, lo
			}
			return &lo, &hi
		}
	}
	for _, idx := range maxPricePattern.FindAllStringSubmatchIndex(lower, -1) {
		keyword := lower[idx[2]:idx[3]]
		unit := submatch(lower, idx, 5)
		if isNonPriceUnit(unit) {
			continue
		}
		v, ok := parseAmount(lower[idx[6]:idx[7]])
		if !ok {
			continue
		}
		thousands := strings.TrimSpace(submatch(lower, idx, 4)) == "k"
		after := idx[7]
		if idx[9] >= 0 {
			after = idx[9]
		}
		// 裸数字 "under 10" 多半说的是年龄或名次，需要货币线索才算价格
		priced := idx[4] >= 0 ||
			thousands ||
			currencySuffix.MatchString(lower[after:]) ||
			strings.HasPrefix(keyword, "budget") ||
			keyword == "cheaper than" ||
			priceContext.MatchString(lower)
		if !priced {
			continue
		}
		if thousands {
			v *= 1000
		}
		maxPrice = &v
		break
	}
	if maxPrice == nil {
		if m := dollarCapPattern.FindStringSubmatch(lower); m != nil {
			if v, ok := parseAmount(m[1]); ok {
				maxPrice = &v
			}
		}
	}
	if m := minPricePattern.FindStringSubmatch(lower); m != nil {
		if v, ok := parseAmount(m[1]); ok {
			minPrice = &v
		}
	}
	return minPrice, maxPrice
}

func isNonPriceUnit(raw string) bool {
	unit := strings.TrimSpace(raw)
	if unit == "" {
		return false
	}
	// "3rd" 这类紧跟数字的序数后缀
	if unit == raw {
		switch unit {
		case "st", "nd", "rd", "th":
			return true
		}
	}
	for _, prefix := range []string{"mi", "km", "kilomet", "year", "yr", "yo", "grade", "min", "hour", "week", "day"} {
		if strings.HasPrefix(unit, prefix) {
			return true
		}
	}
	return false
}

func submatch(s string, idx []int, group int) string {
	if idx[2*group] < 0 {
		return ""
	}
	return s[idx[2*group]:idx[2*group+1]]
}

// parseAgeCeiling 识别 "kids under 10"、"ages up to 12"，并把命中的片段从文本里抹掉，
// 免得后面的价格和年龄规则再读一遍。
func parseAgeCeiling(lower string) (string, int, bool) {
	idx := ageCeilingPattern.FindStringSubmatchIndex(lower)
	if idx == nil {
		return lower, 0, false
	}
	n, ok := ParseNumberWord(lower[idx[4]:idx[5]])
	if !ok || n <= 0 {
		return lower, 0, false
	}
	switch lower[idx[2]:idx[3]] {
	case "under", "below", "younger than", "less than":
		n--
	}
	return lower[:idx[0]] + strings.Repeat(" ", idx[1]-idx[0]) + lower[idx[1]:], n, true
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func parseDistance(lower string) *float64 {
	m := distancePattern.FindStringSubmatch(lower)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return nil
	}
	if strings.HasPrefix(m[2], "k") {
		v = v / geo.KilometersPerMile
	}
	return &v
}

func parseAge(lower string) (int, bool) {
	m := agePattern.FindStringSubmatch(lower)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		v, err := strconv.Atoi(g)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// ParseGrade 识别 "3rd grade"、"grade 3"、"third grade"、"kindergarten" 等写法，范围 0-12。
func ParseGrade(text string) (int, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if kindergartenPattern.MatchString(lower) {
		return 0, true
	}
	for _, m := range gradePattern.FindAllStringSubmatch(lower, -1) {
		var v int
		switch {
		case m[1] != "":
			v, _ = strconv.Atoi(m[1])
		case m[2] != "":
			v, _ = strconv.Atoi(m[2])
		case m[3] != "":
			n, ok := ordinalWords[m[3]]
			if !ok {
				continue
			}
			v = n
		}
		if v >= 0 && v <= 12 {
			return v, true
		}
	}
	return 0, false
}

// ParseNumberWord 把 "3"、"three" 之类的词转成整数。
func ParseNumberWord(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	v, ok := numberWords[s]
	return v, ok
}

// OrdinalWord 把 "third"、"3rd" 转成序号。
func OrdinalWord(s string) (int, bool) {
	v, ok := ordinalWords[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

func parseOrdinal(lower string) *camp.Ordinal {
	if m := leadingOrdinal.FindStringSubmatch(lower); m != nil {
		if n, ok := ParseNumberWord(m[2]); ok && n > 0 {
			return &camp.Ordinal{Start: 0, Count: n}
		}
	}
	if m := trailingOrdinal.FindStringSubmatch(lower); m != nil {
		if n, ok := ParseNumberWord(m[1]); ok && n > 0 {
			return &camp.Ordinal{Start: 0, Count: n, FromEnd: true}
		}
	}
	if m := singleOrdinal.FindStringSubmatch(lower); m != nil {
		if m[1] == "last" {
			return &camp.Ordinal{Start: 0, Count: 1, FromEnd: true}
		}
		if n, ok := OrdinalWord(m[1]); ok {
			return &camp.Ordinal{Start: n - 1, Count: 1}
		}
	}
	if m := numberRefPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return &camp.Ordinal{Start: n - 1, Count: 1}
		}
	}
	return nil
}

// HasSearchTerms 判断条件中是否含有可用于检索的约束（不含序号）。
func HasSearchTerms(c camp.FilterCriteria) bool {
	withoutOrdinal := c
	withoutOrdinal.Ordinal = nil
	return !withoutOrdinal.Empty()
}

package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wafkaw/book-digger/pkg/common"
)

// Fallback is the local rule based extractor used when the service cannot
// deliver a result, and as the whole extractor in offline mode. It is
// deterministic: the same text always yields the same result.
type Fallback struct {
	norm normalizer
}

func NewFallback(opts Options) *Fallback {
	return &Fallback{norm: normalizer{opts: opts.withDefaults()}}
}

// lexicon maps a trigger (ASCII words match whole words, other scripts match
// substrings) to the entity name it implies.
type lexicon []struct {
	trigger string
	name    string
}

var conceptLexicon = lexicon{
	{"权力", "权力意志"}, {"支配", "权力意志"}, {"控制", "权力意志"},
	{"死亡", "死亡恐惧"}, {"生命", "存在焦虑"}, {"存在", "存在焦虑"},
	{"爱情", "爱情哲学"}, {"欲望", "爱情哲学"}, {"婚姻", "婚姻自由"},
	{"自由", "婚姻自由"}, {"选择", "选择责任"}, {"责任", "选择责任"},
	{"孤独", "孤独连接"}, {"连接", "孤独连接"}, {"宗教", "宗教信仰"},
	{"信仰", "宗教信仰"}, {"上帝", "宗教信仰"}, {"无神", "无神论"},
	{"心理", "精神分析"}, {"精神", "精神分析"}, {"意识", "意识觉醒"},
	{"意义", "意义建构"},
	{"power", "will to power"}, {"control", "will to power"},
	{"death", "fear of death"}, {"mortality", "fear of death"},
	{"existence", "existential anxiety"}, {"exist", "existential anxiety"},
	{"love", "philosophy of love"}, {"desire", "philosophy of love"},
	{"freedom", "freedom"}, {"free", "freedom"},
	{"choice", "choice and responsibility"}, {"choose", "choice and responsibility"},
	{"responsibility", "choice and responsibility"},
	{"loneliness", "loneliness"}, {"lonely", "loneliness"}, {"alone", "loneliness"},
	{"religion", "religious faith"}, {"faith", "religious faith"}, {"god", "religious faith"},
	{"unconscious", "psychoanalysis"}, {"psychoanalysis", "psychoanalysis"},
	{"consciousness", "consciousness"}, {"meaning", "meaning making"},
	{"habit", "habit formation"}, {"habits", "habit formation"},
}

var themeLexicon = lexicon{
	{"哲学", "哲学思辨"}, {"心理", "心理学"}, {"治疗", "心理学"},
	{"关系", "人际关系"}, {"自我", "自我认知"}, {"认知", "自我认知"},
	{"情感", "情感分析"}, {"生死", "生死观"}, {"价值", "价值观"},
	{"道德", "道德伦理"}, {"宗教", "宗教哲学"}, {"存在", "存在主义"},
	{"philosophy", "philosophy"}, {"philosopher", "philosophy"},
	{"psychology", "psychology"}, {"therapy", "psychology"}, {"therapist", "psychology"},
	{"relationship", "relationships"}, {"relationships", "relationships"},
	{"self", "self-knowledge"}, {"values", "values"}, {"moral", "ethics"},
	{"ethics", "ethics"}, {"existential", "existentialism"}, {"science", "science"},
	{"history", "history"}, {"politics", "politics"}, {"economy", "economics"},
}

var emotionLexicon = lexicon{
	{"焦虑", "焦虑"}, {"紧张", "焦虑"}, {"困惑", "困惑"}, {"疑问", "困惑"},
	{"痛苦", "痛苦"}, {"难过", "痛苦"}, {"愤怒", "愤怒"}, {"生气", "愤怒"},
	{"恐惧", "恐惧"}, {"害怕", "恐惧"}, {"希望", "希望"}, {"期望", "希望"},
	{"平静", "平静"}, {"安静", "平静"}, {"悲伤", "悲伤"}, {"伤心", "悲伤"},
	{"孤独", "孤独"}, {"寂寞", "孤独"}, {"渴望", "渴望"}, {"向往", "渴望"},
	{"满足", "满足"}, {"幸福", "满足"}, {"挣扎", "挣扎"}, {"矛盾", "挣扎"},
	{"anxiety", "anxiety"}, {"anxious", "anxiety"}, {"fear", "fear"}, {"afraid", "fear"},
	{"hope", "hope"}, {"hopeful", "hope"}, {"sad", "sadness"}, {"sadness", "sadness"},
	{"grief", "sadness"}, {"anger", "anger"}, {"angry", "anger"}, {"joy", "joy"},
	{"happy", "joy"}, {"happiness", "joy"}, {"pain", "pain"}, {"suffering", "pain"},
	{"longing", "longing"}, {"calm", "calm"}, {"peace", "calm"}, {"confusion", "confusion"},
	{"struggle", "struggle"},
}

var peopleLexicon = lexicon{
	{"尼采", "尼采"}, {"布雷尔", "布雷尔"}, {"弗洛伊德", "弗洛伊德"},
	{"贝莎", "贝莎"}, {"亚隆", "欧文·亚隆"}, {"叔本华", "叔本华"},
	{"瓦格纳", "瓦格纳"}, {"莎乐美", "莎乐美"}, {"耶稣", "耶稣"},
}

// importanceKeywords drive the keyword part of the importance score; a
// keyword counts when either form appears.
var importanceKeywords = [][2]string{
	{"哲学", "philosophy"}, {"心理", "psychology"}, {"存在", "existence"},
	{"生命", "life"}, {"死亡", "death"}, {"爱情", "love"},
	{"自由", "freedom"}, {"选择", "choice"}, {"责任", "responsibility"},
	{"意义", "meaning"},
}

// nameStopwords are capitalized words that start sentences but are not names.
var nameStopwords = setOf(
	"the", "a", "an", "i", "we", "you", "he", "she", "it", "they", "this",
	"that", "these", "those", "but", "and", "or", "if", "when", "what",
	"why", "how", "in", "on", "at", "of", "for", "to", "from", "with",
	"there", "here", "my", "our", "your", "his", "her", "their", "not",
	"no", "yes", "all", "every", "each", "as", "so", "then", "once",
	"god",
)

type text struct {
	lower string
	words map[string]struct{}
}

func newText(content string) text {
	lower := strings.ToLower(content)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		words[w] = struct{}{}
	}
	return text{lower: lower, words: words}
}

func (t text) has(trigger string) bool {
	if isASCII(trigger) {
		_, ok := t.words[trigger]
		return ok
	}
	return strings.Contains(t.lower, trigger)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func (l lexicon) match(t text, importance float64) []extractedEntity {
	var out []extractedEntity
	for _, entry := range l {
		if t.has(entry.trigger) {
			out = append(out, extractedEntity{Name: entry.name, Importance: &importance})
		}
	}
	return out
}

// Importance scores a highlight from its length, philosophical keywords and
// the density of question and exclamation marks. The result is in [0.1, 1].
func Importance(content string) float64 {
	runes := utf8.RuneCountInString(content)
	lengthScore := min(float64(runes)/200, 1) * 0.3

	t := newText(content)
	hits := 0
	for _, kw := range importanceKeywords {
		if t.has(kw[0]) || t.has(kw[1]) {
			hits++
		}
	}
	keywordScore := float64(hits) / float64(len(importanceKeywords)) * 0.4

	marks := 0
	for _, r := range content {
		switch r {
		case '?', '!', '？', '！':
			marks++
		}
	}
	punctuationScore := float64(marks) / float64(max(runes, 1)) * 0.3

	return min(max(lengthScore+keywordScore+punctuationScore, 0.1), 1)
}

// capitalizedNames finds runs of capitalized Latin words that do not open a
// sentence, e.g. "Irvin Yalom" in "... wrote Irvin Yalom.".
func capitalizedNames(content string) []string {
	var names []string
	var run []string
	sentenceStart := true

	flush := func() {
		if len(run) > 0 {
			names = append(names, strings.Join(run, " "))
			run = run[:0]
		}
	}

	for _, raw := range strings.Fields(content) {
		word := strings.TrimFunc(raw, func(r rune) bool { return !unicode.IsLetter(r) })
		endsSentence := strings.ContainsAny(raw, ".!?;:。！？")
		first, _ := utf8.DecodeRuneInString(word)

		switch {
		case word == "":
			flush()
		case unicode.IsUpper(first) && isASCII(word) && utf8.RuneCountInString(word) > 1 && !sentenceStart:
			if _, stop := nameStopwords[strings.ToLower(word)]; stop {
				flush()
			} else {
				run = append(run, word)
			}
		default:
			flush()
		}

		if endsSentence {
			flush()
		}
		sentenceStart = endsSentence
	}
	flush()
	return names
}

// Summary returns the highlight itself when short, otherwise its first and
// last sentence or a truncated excerpt.
func Summary(content string) string {
	content = common.CollapseWhitespace(content)
	if utf8.RuneCountInString(content) <= 100 {
		return content
	}
	if sentences := strings.Split(strings.TrimSuffix(content, "。"), "。"); len(sentences) >= 2 {
		return sentences[0] + "。" + sentences[len(sentences)-1] + "。"
	}
	return common.Excerpt(content, 100)
}

// Extract analyzes a single highlight locally.
func (f *Fallback) Extract(h common.Highlight) common.ExtractionResult {
	importance := Importance(h.Content)
	t := newText(h.Content)

	people := peopleLexicon.match(t, importance)
	for _, name := range capitalizedNames(h.Content) {
		people = append(people, extractedEntity{Name: name, Importance: &importance})
	}

	item := extractedItem{
		Concepts: conceptLexicon.match(t, importance),
		Themes:   themeLexicon.match(t, importance),
		People:   people,
		Emotions: emotionLexicon.match(t, importance),
		Summary:  Summary(h.Content),
	}

	result, err := f.norm.item(item)
	if err != nil {
		// lexicon output is always well formed; keep the summary at least
		return common.ExtractionResult{Summary: item.Summary}
	}
	return result
}

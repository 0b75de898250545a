package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/wafkaw/book-digger/pkg/common"
)

// genericTerms are names too vague to become graph nodes, keyed by normalized
// form. They apply to every kind.
var genericTerms = setOf(
	"thing", "things", "something", "anything", "everything", "stuff",
	"idea", "ideas", "concept", "concepts", "theme", "themes", "topic",
	"people", "person", "someone", "everyone", "man", "woman",
	"book", "books", "chapter", "author", "text", "passage", "highlight",
	"life", "time", "world", "way", "fact", "problem", "question", "answer",
	"general", "other", "misc", "none", "n/a", "unknown", "various",
	// generic Chinese particles and fillers
	"的", "了", "是", "有", "在", "和", "与", "或", "但", "而",
	"所以", "因为", "如果", "虽然", "不过", "可是", "只是", "就是",
	"什么", "怎么", "为什么", "哪里", "谁", "多少", "几个",
)

// genericConcepts are additionally rejected as concepts.
var genericConcepts = setOf(
	"然而", "此刻", "时间", "思考", "生活", "人生", "世界", "生命",
	"自己", "我们", "他们", "这个", "那个", "现在", "过去", "未来",
	"好的", "不好", "重要", "一般", "普通", "简单", "复杂", "问题",
	"答案", "方法", "方式", "内容", "事情", "东西", "情况", "状态",
	"过程", "结果", "原因", "条件", "环境", "背景",
	"important", "simple", "complex", "method", "content", "situation",
	"process", "result", "reason", "condition", "background",
)

var genericThemes = setOf(
	"一般讨论", "普通话题", "简单分析", "基础理解", "常见观点", "日常思考",
	"general discussion", "everyday thoughts", "miscellaneous",
)

var genericEmotions = setOf(
	"普通", "一般", "正常", "平常", "简单", "复杂",
	"明白", "理解", "知道", "感觉", "觉得",
	"neutral", "normal", "feeling", "feelings", "emotion",
)

func setOf(terms ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		out[common.NormalizeName(t)] = struct{}{}
	}
	return out
}

const nameTrimSet = " \t\r\n\"'`#*•·-_:;,.。，；：“”‘’「」『』《》【】()（）[]"

// cleanName strips decoration models like to add around names.
func cleanName(name string) string {
	return common.CollapseWhitespace(strings.Trim(name, nameTrimSet))
}

// keepTerm reports whether a normalized name may become a node of kind.
func keepTerm(normalized string, kind common.EntityKind, minConceptLength int) bool {
	n := utf8.RuneCountInString(normalized)
	if n <= 1 {
		return false
	}
	if _, ok := genericTerms[normalized]; ok {
		return false
	}
	switch kind {
	case common.KindConcept:
		if n < minConceptLength {
			return false
		}
		_, generic := genericConcepts[normalized]
		return !generic
	case common.KindTheme:
		_, generic := genericThemes[normalized]
		return !generic
	case common.KindEmotion:
		_, generic := genericEmotions[normalized]
		return !generic
	}
	return true
}

package aesthetic

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/PiaoShihao/photocritic/api"
)

// The report sections are delimited by the Chinese headings the built-in
// template asks the model to produce. Lookaheads keep each section from
// swallowing the next, so the patterns need regexp2 rather than RE2.
var (
	dimensionRe   = regexp2.MustCompile(`维度分析与评分：(.*?)综合评分：`, regexp2.Singleline)
	compositionRe = regexp2.MustCompile(`构图：(.*?)(?=焦段：|对比度|$)`, regexp2.Singleline)
	focalRe       = regexp2.MustCompile(`焦段：(.*?)(?=对比度|$)`, regexp2.Singleline)
	contrastRe    = regexp2.MustCompile(`对比度&曝光度&亮度：(.*?)(?=$|\n\n)`, regexp2.Singleline)
	overallRe     = regexp2.MustCompile(`综合评分：.*?(\d+\.?\d*)`, 0)
	evaluationRe  = regexp2.MustCompile(`综合评价与建议：(.*?)(?=$|\n\n\n)`, regexp2.Singleline)
	scoreRe       = regexp2.MustCompile(`(\d+\.?\d*)分`, 0)
)

// ParseResponse extracts the structured analysis from a generated
// critique. Sections the model did not produce are left empty with a
// zero score; free-form responses parse to an empty analysis rather
// than an error.
func ParseResponse(response string) api.AestheticAnalysis {
	var a api.AestheticAnalysis

	if dims, ok := firstGroup(dimensionRe, response); ok {
		if text, ok := firstGroup(compositionRe, dims); ok {
			a.CompositionAnalysis = cleanText(text)
			a.Scores.Composition = lastScore(text)
		}
		if text, ok := firstGroup(focalRe, dims); ok {
			a.FocalLengthAnalysis = cleanText(text)
			a.Scores.FocalLength = lastScore(text)
		}
		if text, ok := firstGroup(contrastRe, dims); ok {
			a.ContrastExposureBrightnessAnalysis = cleanText(text)
			a.Scores.ContrastExposureBrightness = lastScore(text)
		}
	}

	if s, ok := firstGroup(overallRe, response); ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			a.Scores.Overall = v
		}
	}

	if text, ok := firstGroup(evaluationRe, response); ok {
		text = strings.TrimSpace(text)
		// The evaluation runs straight into the suggestions; split on the
		// first 建议 so both land in their own field.
		if before, after, found := strings.Cut(text, "建议"); found {
			a.OverallEvaluation = strings.TrimSpace(before)
			a.Suggestions = "建议" + strings.TrimSpace(after)
		} else {
			a.OverallEvaluation = text
		}
	}

	return a
}

func firstGroup(re *regexp2.Regexp, s string) (string, bool) {
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return "", false
	}
	return strings.TrimSpace(m.GroupByNumber(1).String()), true
}

// lastScore finds the final "N分" mark in a section. Sections often
// quote intermediate numbers; the model states the score last.
func lastScore(text string) float64 {
	var last string
	m, err := scoreRe.FindStringMatch(text)
	for err == nil && m != nil {
		last = m.GroupByNumber(1).String()
		m, err = scoreRe.FindNextMatch(m)
	}

	if last == "" {
		return 0
	}

	v, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0
	}
	return v
}

func cleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

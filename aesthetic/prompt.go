// Package aesthetic supplies the critique prompt and extracts structured
// scores and analysis sections from the generated text.
package aesthetic

import (
	"log/slog"
	"os"
	"strings"
)

// DefaultPrompt is used when no prompt is given.
const DefaultPrompt = "Analyze this image in detail, focusing on composition, colors, lighting, and overall aesthetic quality."

// builtinTemplate is the direct-analysis form of the full aesthetic
// questionnaire, substituted for long prompt files to avoid
// conversation-style prompting.
const builtinTemplate = `请直接分析这张图片的以下方面：

1. 构图：分析构图方式和元素布局的合理性
2. 焦段：评价焦段选择和透视效果
3. 对比度：判断明暗对比和色彩对比效果
4. 曝光度：分析曝光准确性和细节呈现
5. 亮度：评价整体亮度和分布情况

开始分析：`

// promptFileThreshold is the character count above which a prompt
// file's content triggers builtinTemplate instead.
const promptFileThreshold = 50

// LoadPromptTemplate resolves the prompt for a request. With no path it
// returns DefaultPrompt. Otherwise the file is read and its
// <prompt>...</prompt> tags stripped; content longer than the threshold
// selects the built-in analysis template, shorter content keeps the
// default. A missing file degrades to the default with a warning.
func LoadPromptTemplate(path string) string {
	if path == "" {
		return DefaultPrompt
	}

	b, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("prompt file not readable, using default prompt", "path", path, "error", err)
		return DefaultPrompt
	}

	content := strings.TrimSpace(string(b))
	content = strings.ReplaceAll(content, "<prompt>", "")
	content = strings.ReplaceAll(content, "</prompt>", "")
	content = strings.TrimSpace(content)

	if len([]rune(content)) > promptFileThreshold {
		return builtinTemplate
	}

	return DefaultPrompt
}

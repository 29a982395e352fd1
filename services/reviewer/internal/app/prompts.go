package app

import (
	"fmt"
	"strings"

	"examreviewer/pkg/domain"
)

const selectedTextPlaceholder = "{selected_text}"

func explainPrompt(selected string, page int, custom string) string {
	if strings.TrimSpace(custom) != "" {
		return strings.ReplaceAll(custom, selectedTextPlaceholder, selected)
	}
	return fmt.Sprintf(`用户从第%d页选择了以下文本:

"%s"

请详细解释这段文字的内容，包括：
1. 字面意思是什么？
2. 背后的概念或原理是什么？
3. 有哪些关键要点？
4. 需要注意什么？

请用中文回答，简洁明了。`, page, selected)
}

func translatePrompt(selected, language string) string {
	return fmt.Sprintf(`请将以下文本翻译成%s：

"%s"

只返回翻译结果，不要额外解释。`, language, selected)
}

func summarizeSelectionPrompt(selected string) string {
	return fmt.Sprintf(`请用中文总结以下文本的核心要点：

"%s"

请简洁地列出3-5个要点。`, selected)
}

const fullSummaryPrompt = `请仔细分析这个PDF文档并提供：

1. **文档概述**（2-3段）：这份文档的主要内容是什么？讨论了什么主题？

2. **核心内容**（3-5个要点）：文档中最重要的概念、公式、定义或结论是什么？

3. **关键细节**：有哪些重要的细节、例子或说明？

4. **总结建议**：读者应该重点关注什么？

请用中文回答，结构清晰，内容详实。`

// formulaPrompt covers text-only, image-only and combined selections.
func formulaPrompt(selected string, page int, hasImage bool) string {
	var b strings.Builder
	if page > 0 {
		fmt.Fprintf(&b, "用户在第%d页选中了一个公式", page)
	} else {
		b.WriteString("用户选中了一个公式")
	}
	switch {
	case selected != "" && hasImage:
		fmt.Fprintf(&b, "，附带截图，识别出的文本为:\n\n\"%s\"\n\n", selected)
	case hasImage:
		b.WriteString("，见附带的截图。\n\n")
	default:
		fmt.Fprintf(&b, ":\n\n\"%s\"\n\n", selected)
	}
	b.WriteString(`请结合PDF文档的上下文解释这个公式，包括：
1. 用LaTeX写出公式
2. 每个符号的含义
3. 公式表达的关系或推导思路
4. 一个简单的使用示例

请用中文回答。`)
	return b.String()
}

// chatPrompt prefixes the question with recent turns and the selection.
// With neither, the question is sent as is.
func chatPrompt(message string, history []domain.Message, selected string) string {
	var parts []string
	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, msg := range history {
			lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
		}
		parts = append(parts, "之前的对话:\n"+strings.Join(lines, "\n"))
	}
	if selected != "" {
		parts = append(parts, fmt.Sprintf("用户选中的文本:\n\"%s\"", selected))
	}
	if len(parts) == 0 {
		return message
	}
	return fmt.Sprintf("%s\n\n用户的问题: %s\n\n请基于PDF文档内容回答用户的问题。", strings.Join(parts, "\n"), message)
}

package inference

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/feichai0017/document-extractor/internal/normalizer"
)

const (
	singleImageInstruction = "请分析这个文档图像并生成JSON格式的总结："
	sequenceInstruction    = "请分析这些文档图像并生成JSON格式的总结："
)

// SystemPrompt 把模板原文嵌入系统提示词
func SystemPrompt(templateRaw string) string {
	return `你是一个专业的文档分析助手。你的任务是分析文档图像并生成结构化的中文JSON总结。
重要提示：
1. 必须严格遵守JSON格式
2. 所有内容必须是有效的JSON字符串
3. 所有内容必须使用中文
4. 你将直接从图像中提取信息，不需要中间转换步骤
5. 合同类型的文档必定包含表格用于存储合同明细，表格内可能包含3个或以上数据明细，请直接从表格中提取多个数据明细，不要遗漏

具体格式要求如下：
` + templateRaw + "\n"
}

func buildMessages(templateRaw string, payload *normalizer.Payload) []openai.ChatCompletionMessage {
	instruction := singleImageInstruction
	if payload.Sequence {
		instruction = sequenceInstruction
	}

	parts := make([]openai.ChatMessagePart, 0, len(payload.Images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: instruction,
	})
	// 图片序列按页码顺序逐个作为 image_url 发送
	for _, img := range payload.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img.DataURL()},
		})
	}

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(templateRaw)},
		{Role: openai.ChatMessageRoleUser, MultiContent: parts},
	}
}

// Package lark builds and delivers Lark (Feishu) interactive card
// notifications for alert events.
package lark

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson" // Dynamic JSON field access.
)

// MaxSamples is the number of log samples rendered in a card. The
// total hit count is still shown so readers know how much was elided.
const MaxSamples = 3

const (
	maxRequestLen = 50
	maxMessageLen = 200
)

// appLogKeywords in a rule name mark it as targeting application logs
// rather than nginx access logs.
var appLogKeywords = []string{
	"java", "go", "c++", "cpp", "python", "nodejs", "node",
	"app", "application", "service", "api", "web",
}

// Message is a webhook payload ready for marshaling.
type Message map[string]interface{}

// BuildAlertCard renders an interactive alert card. samples are the
// matched documents to preview (at most MaxSamples are shown), while
// logCount is the full pre-truncation hit count.
func BuildAlertCard(ruleName, indexName string, samples []map[string]interface{}, logCount int, from, to time.Time) Message {
	elements := []map[string]interface{}{
		markdownDiv(fmt.Sprintf("**📋 规则名称**\n%s", ruleName)),
		{
			"tag": "div",
			"fields": []map[string]interface{}{
				shortField(fmt.Sprintf("**⏰ 时间范围**\n%s\n%s", formatTime(from), formatTime(to))),
				shortField(fmt.Sprintf("**🔔 告警数量**\n%d 条", logCount)),
			},
		},
		markdownDiv(fmt.Sprintf("**📊 索引名称**\n`%s`", indexName)),
		hr(),
	}

	if len(samples) > 0 && logCount > 0 {
		elements = append(elements, markdownDiv(
			fmt.Sprintf("**📝 日志摘要**（共 %d 条，展示前 %d 条）", logCount, MaxSamples),
		))

		shown := len(samples)
		if shown > MaxSamples {
			shown = MaxSamples
		}
		for i := 0; i < shown; i++ {
			if i > 0 {
				elements = append(elements, hr())
			}
			elements = append(elements, map[string]interface{}{
				"tag":    "div",
				"fields": extractLogFields(i+1, samples[i], ruleName),
			})
		}

		if logCount > MaxSamples {
			elements = append(elements, hr(), markdownDiv(
				fmt.Sprintf("**➕ 还有 %d 条日志未显示**\n💡 查看完整日志请登录系统", logCount-MaxSamples),
			))
		}
	}

	elements = append(elements,
		hr(),
		map[string]interface{}{
			"tag": "note",
			"elements": []map[string]interface{}{
				{
					"tag":     "plain_text",
					"content": "💡 完整日志详情请登录 ELK Helper 系统查看",
				},
			},
		},
		markdownDiv("<at id=all></at>"),
	)

	return Message{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"config": map[string]interface{}{
				"wide_screen_mode": true,
			},
			"header": map[string]interface{}{
				"title": map[string]interface{}{
					"tag":     "plain_text",
					"content": "🚨 ELK 告警",
				},
				"template": "red",
			},
			"elements": elements,
		},
	}
}

func markdownDiv(content string) map[string]interface{} {
	return map[string]interface{}{
		"tag": "div",
		"text": map[string]interface{}{
			"tag":     "lark_md",
			"content": content,
		},
	}
}

func shortField(content string) map[string]interface{} {
	return map[string]interface{}{
		"is_short": true,
		"text": map[string]interface{}{
			"tag":     "lark_md",
			"content": content,
		},
	}
}

func wideField(content string) map[string]interface{} {
	return map[string]interface{}{
		"is_short": false,
		"text": map[string]interface{}{
			"tag":     "lark_md",
			"content": content,
		},
	}
}

func hr() map[string]interface{} {
	return map[string]interface{}{"tag": "hr"}
}

// extractLogFields picks the card fields for one log sample. The rule
// name decides the layout: "nginx" rules get access-log fields, rules
// named after an application runtime get app-log fields. When the name
// is inconclusive the document's own fields decide, defaulting to the
// app layout.
func extractLogFields(rowNum int, doc map[string]interface{}, ruleName string) []map[string]interface{} {
	raw, _ := json.Marshal(doc)
	name := strings.ToLower(ruleName)

	if strings.Contains(name, "nginx") {
		return nginxLogFields(rowNum, raw)
	}
	for _, kw := range appLogKeywords {
		if strings.Contains(name, kw) {
			return appLogFields(rowNum, raw)
		}
	}

	if gjson.GetBytes(raw, "response_code").Exists() {
		return nginxLogFields(rowNum, raw)
	}
	if gjson.GetBytes(raw, "module").Exists() && gjson.GetBytes(raw, "message").Exists() {
		return appLogFields(rowNum, raw)
	}
	return appLogFields(rowNum, raw)
}

// nginxLogFields renders response_code, @timestamp, request, cf_ray
// and domain.
func nginxLogFields(rowNum int, raw []byte) []map[string]interface{} {
	code := firstValue(raw, "response_code", "status_code", "status")

	request := "-"
	if v := firstValue(raw, "request", "path"); v != "-" {
		if idx := strings.Index(v, "?"); idx > 0 {
			v = v[:idx]
		}
		if len(v) > maxRequestLen {
			v = v[:maxRequestLen] + "..."
		}
		request = v
	}

	return []map[string]interface{}{
		shortField(fmt.Sprintf("**#%d | 状态码:** <font color='red'>%s</font>", rowNum, code)),
		shortField(fmt.Sprintf("**⏰ 时间:** %s", formatTimestamp(raw))),
		shortField(fmt.Sprintf("**🔗 URL:** `%s`", request)),
		shortField(fmt.Sprintf("**☁️ CF Ray:** `%s`", firstValue(raw, "cf_ray"))),
		shortField(fmt.Sprintf("**🌐 Domain:** `%s`", firstValue(raw, "domain"))),
	}
}

// appLogFields renders module, node_ip, @timestamp and message.
func appLogFields(rowNum int, raw []byte) []map[string]interface{} {
	message := "-"
	if v := firstValue(raw, "message"); v != "-" {
		if len(v) > maxMessageLen {
			v = v[:maxMessageLen] + "..."
		}
		v = strings.ReplaceAll(v, "\n", " ")
		v = strings.ReplaceAll(v, "\r", "")
		message = v
	}

	return []map[string]interface{}{
		shortField(fmt.Sprintf("**#%d | 📦 模块:** `%s`", rowNum, firstValue(raw, "module"))),
		shortField(fmt.Sprintf("**🖥️ 节点:** `%s`", firstValue(raw, "node_ip"))),
		shortField(fmt.Sprintf("**⏰ 时间:** %s", formatTimestamp(raw))),
		wideField(fmt.Sprintf("**💬 消息:**\n```\n%s\n```", message)),
	}
}

// firstValue returns the first non-empty field among paths, or "-".
func firstValue(raw []byte, paths ...string) string {
	for _, path := range paths {
		if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return "-"
}

// formatTimestamp renders the document's @timestamp for display,
// flattening ISO form to "2006-01-02 15:04:05".
func formatTimestamp(raw []byte) string {
	v := gjson.GetBytes(raw, `\@timestamp`)
	if !v.Exists() || v.String() == "" {
		return "-"
	}
	ts := v.String()
	if strings.Contains(ts, "T") {
		ts = strings.Replace(ts, "T", " ", 1)
		ts = strings.Replace(ts, "Z", "", 1)
		if idx := strings.Index(ts, "."); idx > 0 {
			ts = ts[:idx]
		}
	}
	return ts
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

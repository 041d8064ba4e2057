// Package render 生成随广播事件下发的 HTML 片段。
// 内容一律经过转义，提及标记在转义后包成 span。
package render

import (
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
	"time"

	"chathub/internal/models"
)

var messageTmpl = template.Must(template.New("message").Parse(
	`<div class="backlog backlog--message" id="backlog-{{.Pk}}">` +
		`<span class="backlog__author">{{.Author}}</span>` +
		`<time class="backlog__date">{{.Date}}</time>` +
		`<div class="backlog__content" data-role="content">{{.Content}}</div>` +
		`<div class="backlog__reactions" data-role="reactions"></div>` +
		`</div>`))

var logTmpl = template.Must(template.New("log").Parse(
	`<div class="backlog backlog--log" id="backlog-{{.Pk}}">` +
		`<span class="backlog__action">{{.Text}}</span>` +
		`<time class="backlog__date">{{.Date}}</time>` +
		`</div>`))

var reactionTmpl = template.Must(template.New("reaction").Parse(
	`<div class="backlog__reaction" id="reaction-{{.Pk}}">` +
		`<span class="backlog__reaction-emote">{{.Emote}}</span>` +
		`<span class="backlog__reaction-counter" data-role="counter">{{.Count}}</span>` +
		`</div>`))

var friendshipTmpl = template.Must(template.New("friendship").Parse(
	`<div class="user" id="friend-{{.Pk}}">` +
		`<span class="user__name">{{.Name}}</span>` +
		`</div>`))

var privateChatTmpl = template.Must(template.New("privateChat").Parse(
	`<a class="private-chat" id="private-chat-{{.Pk}}" href="/chats/{{.Pk}}">` +
		`<span class="private-chat__name">{{.Name}}</span>` +
		`</a>`))

var mentionTokenRe = regexp.MustCompile(`&gt;&gt;([A-Za-z0-9_]+#[0-9]{2}|everyone)`)

// MessageContent 转义原文并把提及标记包进 span，返回可直接注入的片段。
func MessageContent(content string) template.HTML {
	escaped := html.EscapeString(content)
	wrapped := mentionTokenRe.ReplaceAllString(escaped, `<span class="mention">&gt;&gt;$1</span>`)
	return template.HTML(wrapped)
}

// displayDate 与原始时间轴保持一致的 HH:MM:SS 展示格式。
func displayDate(t time.Time) string {
	return t.Format("15:04:05")
}

// Message 渲染一条消息行。
func Message(backlog models.Backlog, author models.User) (string, error) {
	if backlog.Message == nil {
		return "", fmt.Errorf("render: backlog %d has no message side", backlog.ID)
	}
	var b strings.Builder
	err := messageTmpl.Execute(&b, struct {
		Pk      uint
		Author  string
		Date    string
		Content template.HTML
	}{backlog.ID, author.FullName(), displayDate(backlog.CreatedAt), MessageContent(backlog.Message.Content)})
	return b.String(), err
}

// Log 渲染一条 join/leave 日志行。
func Log(backlog models.Backlog, trigger models.User) (string, error) {
	if backlog.Log == nil {
		return "", fmt.Errorf("render: backlog %d has no log side", backlog.ID)
	}
	var text string
	switch backlog.Log.Action {
	case models.LogActionJoin:
		text = fmt.Sprintf("%s joined", trigger.FullName())
	case models.LogActionLeave:
		text = fmt.Sprintf("%s left", trigger.FullName())
	default:
		text = backlog.Log.Action
	}
	var b strings.Builder
	err := logTmpl.Execute(&b, struct {
		Pk   uint
		Text string
		Date string
	}{backlog.ID, text, displayDate(backlog.CreatedAt)})
	return b.String(), err
}

// Reaction 渲染一个反应计数块。
func Reaction(reaction models.Reaction, emote models.Emote, count int) (string, error) {
	var b strings.Builder
	err := reactionTmpl.Execute(&b, struct {
		Pk    uint
		Emote string
		Count int
	}{reaction.ID, emote.Name, count})
	return b.String(), err
}

// Friendship 渲染好友列表里的一行，Name 是对方的展示名。
func Friendship(friendship models.Friendship, other models.User) (string, error) {
	var b strings.Builder
	err := friendshipTmpl.Execute(&b, struct {
		Pk   uint
		Name string
	}{friendship.ID, other.FullName()})
	return b.String(), err
}

// PrivateChat 渲染侧边栏里的私聊入口。
func PrivateChat(chat models.PrivateChat, other models.User) (string, error) {
	var b strings.Builder
	err := privateChatTmpl.Execute(&b, struct {
		Pk   uint
		Name string
	}{chat.ID, other.FullName()})
	return b.String(), err
}

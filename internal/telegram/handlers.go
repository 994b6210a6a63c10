package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/auth"
	"mingling-chat/internal/chat"
	"mingling-chat/internal/session"
)

const (
	deletePrefix  = "del:"
	domainPrefix  = "domain:"
	approvePrefix = "approve:"
	denyPrefix    = "deny:"

	// upper bound for one reply, on top of any responder timeout
	replyWait = 5 * time.Minute
)

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !b.authSvc.IsAllowed(msg.From.ID) {
		log.Printf("Unauthorized access attempt by user ID: %d, username: @%s", msg.From.ID, msg.From.UserName)
		if b.requestAccess(msg) {
			b.sendMessage(msg.Chat.ID, "Yêu cầu truy cập đã được gửi tới quản trị viên.")
			return
		}
		b.sendMessage(msg.Chat.ID, "Bạn chưa có quyền sử dụng bot. Vui lòng liên hệ quản trị viên.")
		return
	}
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	c := b.controller(msg.Chat.ID)
	staged, ok := b.stageFromMessage(ctx, c, msg)
	if !ok {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	log.Printf("Incoming message from %d (@%s): %q (+%d attachments)", msg.From.ID, msg.From.UserName, text, staged)

	sent, err := c.SendMessage(ctx, text)
	if errors.Is(err, session.ErrInvalidState) {
		b.sendMessage(msg.Chat.ID, "⏳ Đang chờ phản hồi trước, vui lòng đợi.")
		return
	}
	if err != nil {
		log.Printf("send failed: %v", err)
		b.sendMessage(msg.Chat.ID, "Xin lỗi, đã xảy ra lỗi.")
		return
	}
	if sent.ID == "" {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, replyWait)
	defer cancel()
	if err := c.WaitIdle(waitCtx); err != nil {
		log.Printf("gave up waiting for reply in chat %d: %v", msg.Chat.ID, err)
		return
	}
	// failures are reported by the controller's error listener
	for _, m := range c.Snapshot().Messages {
		if m.IsAssistant() && m.RespondsTo == sent.ID {
			b.sendReply(msg.Chat.ID, sent.ID, m)
			return
		}
	}
}

// stageFromMessage stages a photo or document carried by msg. It reports
// how many attachments were staged and false if the message should be dropped.
func (b *Bot) stageFromMessage(ctx context.Context, c *session.Controller, msg *tgbotapi.Message) (int, bool) {
	var (
		fileID string
		file   attachment.File
		kind   chat.Kind
	)
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		fileID = p.FileID
		file = attachment.File{Name: "photo_" + p.FileUniqueID + ".jpg", ContentType: "image/jpeg"}
		kind = chat.KindImage
	case msg.Document != nil:
		fileID = msg.Document.FileID
		file = attachment.File{Name: msg.Document.FileName, ContentType: msg.Document.MimeType}
		kind = attachment.DetectKind(file.Name, file.ContentType)
	default:
		return 0, true
	}

	log.Printf("📥 Downloading file: %s", file.Name)
	data, err := b.files.Fetch(ctx, fileID)
	if err != nil {
		log.Printf("❌ %v", err)
		b.sendMessage(msg.Chat.ID, "Không tải được tệp, vui lòng thử lại.")
		return 0, false
	}
	file.Data = data
	if _, err := c.StageAttachment(file, kind); err != nil {
		b.sendMessage(msg.Chat.ID, "Tệp không được hỗ trợ: "+err.Error())
		return 0, false
	}
	return 1, true
}

func (b *Bot) sendReply(chatID int64, promptID string, m chat.Message) {
	text := m.Content
	if m.Domain != "" && m.Domain != chat.DomainGeneral {
		text = "[" + m.Domain.Label() + "]\n" + text
	}
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Xoá", deletePrefix+promptID),
		),
	)
	if _, err := b.s.Send(out); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.sendMessage(msg.Chat.ID, helpText())
		return
	case "new":
		if err := b.controller(msg.Chat.ID).StartNewChat(); err != nil {
			b.sendMessage(msg.Chat.ID, "⏳ Đang chờ phản hồi, chưa thể bắt đầu cuộc trò chuyện mới.")
			return
		}
		b.sendMessage(msg.Chat.ID, "Đã bắt đầu cuộc trò chuyện mới.")
		return
	case "domain":
		arg := strings.TrimSpace(msg.CommandArguments())
		if arg == "" {
			b.sendDomainPicker(msg.Chat.ID)
			return
		}
		b.setDomain(msg.Chat.ID, arg)
		return
	}

	// admin-only commands
	if !b.isAdmin(msg.From.ID) {
		b.sendMessage(msg.Chat.ID, "Lệnh không hợp lệ.")
		return
	}
	switch msg.Command() {
	case "allowlist":
		var bld strings.Builder
		bld.WriteString("Allowlist:\n")
		for _, u := range b.authSvc.List() {
			bld.WriteString(fmt.Sprintf("- id=%d, @%s %s %s\n", u.ID, u.Username, u.FirstName, u.LastName))
		}
		b.sendMessage(msg.Chat.ID, bld.String())
	case "pending":
		if b.pending == nil {
			b.sendMessage(msg.Chat.ID, "Hàng chờ không được bật.")
			return
		}
		var bld strings.Builder
		bld.WriteString("Pending:\n")
		for _, u := range b.pending.List() {
			bld.WriteString(fmt.Sprintf("- id=%d, @%s %s %s\n", u.ID, u.Username, u.FirstName, u.LastName))
		}
		b.sendMessage(msg.Chat.ID, bld.String())
	case "allow", "remove":
		args := strings.Fields(msg.CommandArguments())
		if len(args) != 1 {
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Usage: /%s <user_id>", msg.Command()))
			return
		}
		uid, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.sendMessage(msg.Chat.ID, "user_id không hợp lệ")
			return
		}
		if msg.Command() == "allow" {
			err = b.authSvc.Upsert(auth.User{ID: uid})
		} else {
			err = b.authSvc.Remove(uid)
		}
		if err != nil {
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Lỗi: %v", err))
			return
		}
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Đã cập nhật allowlist: %s %d", msg.Command(), uid))
	default:
		b.sendMessage(msg.Chat.ID, "Lệnh không hợp lệ.")
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.From != nil && cb.Message != nil && b.isAdmin(cb.From.ID) {
		if strings.HasPrefix(cb.Data, approvePrefix) || strings.HasPrefix(cb.Data, denyPrefix) {
			b.decideAccess(cb.Message.Chat.ID, cb.Data)
			return
		}
	}
	if cb.From == nil || cb.Message == nil || !b.authSvc.IsAllowed(cb.From.ID) {
		return
	}
	chatID := cb.Message.Chat.ID
	switch {
	case strings.HasPrefix(cb.Data, deletePrefix):
		n := b.controller(chatID).DeleteMessage(strings.TrimPrefix(cb.Data, deletePrefix))
		if n == 0 {
			b.sendMessage(chatID, "Tin nhắn đã được xoá trước đó.")
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("Đã xoá %d tin nhắn.", n))
	case strings.HasPrefix(cb.Data, domainPrefix):
		b.setDomain(chatID, strings.TrimPrefix(cb.Data, domainPrefix))
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.adminUserID != 0 && userID == b.adminUserID
}

// requestAccess queues the sender and pings the admin on the first request.
func (b *Bot) requestAccess(msg *tgbotapi.Message) bool {
	if b.pending == nil || b.adminUserID == 0 {
		return false
	}
	u := auth.User{ID: msg.From.ID, Username: msg.From.UserName, FirstName: msg.From.FirstName, LastName: msg.From.LastName}
	fresh, err := b.pending.Request(u)
	if err != nil {
		log.Printf("⚠️ %v", err)
	}
	if !fresh {
		return true
	}
	id := strconv.FormatInt(u.ID, 10)
	out := tgbotapi.NewMessage(b.adminUserID, fmt.Sprintf("Yêu cầu truy cập: id=%d, @%s %s %s", u.ID, u.Username, u.FirstName, u.LastName))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Duyệt", approvePrefix+id),
			tgbotapi.NewInlineKeyboardButtonData("❌ Từ chối", denyPrefix+id),
		),
	)
	if _, err := b.s.Send(out); err != nil {
		log.Printf("failed to send message: %v", err)
	}
	return true
}

func (b *Bot) decideAccess(adminChat int64, data string) {
	if b.pending == nil {
		return
	}
	approve := strings.HasPrefix(data, approvePrefix)
	raw := strings.TrimPrefix(strings.TrimPrefix(data, approvePrefix), denyPrefix)
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		b.sendMessage(adminChat, "user_id không hợp lệ")
		return
	}
	u, ok, err := b.pending.Take(uid)
	if err != nil {
		log.Printf("⚠️ %v", err)
	}
	if !ok {
		b.sendMessage(adminChat, "Yêu cầu đã được xử lý.")
		return
	}
	if !approve {
		b.sendMessage(adminChat, fmt.Sprintf("Đã từ chối %d", uid))
		b.sendMessage(uid, "Yêu cầu truy cập của bạn đã bị từ chối.")
		return
	}
	if err := b.authSvc.Upsert(u); err != nil {
		b.sendMessage(adminChat, fmt.Sprintf("Lỗi: %v", err))
		return
	}
	b.sendMessage(adminChat, fmt.Sprintf("Đã duyệt %d", uid))
	b.sendMessage(uid, "Bạn đã được cấp quyền. Gửi /help để bắt đầu.")
}

func (b *Bot) setDomain(chatID int64, name string) {
	d, err := chat.ParseDomain(name)
	if err != nil {
		b.sendMessage(chatID, "Lĩnh vực không hợp lệ: "+name)
		return
	}
	_ = b.controller(chatID).SetDomain(d)
	b.sendMessage(chatID, "Lĩnh vực: "+d.Label())
}

func (b *Bot) sendDomainPicker(chatID int64) {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(chat.Domains))
	for _, d := range chat.Domains {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(d.Label(), domainPrefix+string(d)))
	}
	out := tgbotapi.NewMessage(chatID, "Chọn lĩnh vực:")
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if _, err := b.s.Send(out); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}

func helpText() string {
	var bld strings.Builder
	bld.WriteString("MinglingMind AI\n\n/new - cuộc trò chuyện mới\n/domain <tên> - chọn lĩnh vực\n\nLĩnh vực: ")
	names := make([]string, 0, len(chat.Domains))
	for _, d := range chat.Domains {
		names = append(names, string(d))
	}
	bld.WriteString(strings.Join(names, ", "))
	return bld.String()
}

func failureText(err error) string {
	var gf *session.GenerationFailure
	if errors.As(err, &gf) && gf.Reason == session.ReasonTimeout {
		return "⚠️ Hết thời gian chờ phản hồi, vui lòng thử lại."
	}
	return "⚠️ Không thể tạo phản hồi, vui lòng thử lại."
}

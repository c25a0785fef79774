package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mkravets/orderwatch/internal/model"
)

// Ensure TelegramNotifier implements model.Notifier.
var _ model.Notifier = (*TelegramNotifier)(nil)

// botAPI is the part of tgbotapi.BotAPI the notifier uses, extracted so
// tests can substitute a recorder.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier delivers payloads to each subscriber's private chat.
type TelegramNotifier struct {
	bot    botAPI
	logger *slog.Logger
}

// NewTelegramNotifier authenticates the bot with the given token.
func NewTelegramNotifier(token string, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	logger.Info("telegram bot authenticated", "username", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, logger: logger}, nil
}

// Send formats the payload and delivers it to the subscriber's chat.
func (n *TelegramNotifier) Send(_ context.Context, sub model.Subscriber, p model.Payload) error {
	msg := tgbotapi.NewMessage(sub.ChatID, buildMessage(p))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	if p.Listing.URL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Открыть заказ", p.Listing.URL),
			),
		)
	}

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", sub.ChatID, err)
	}
	return nil
}

// buildMessage renders one payload as MarkdownV2. All listing-derived text is
// escaped; only our own markup characters survive.
func buildMessage(p model.Payload) string {
	var sb strings.Builder

	switch p.Kind {
	case model.PayloadNewMatch:
		sb.WriteString("🆕 *Новый заказ*")
	case model.PayloadUpdate:
		sb.WriteString("♻️ *Заказ обновлён*")
	case model.PayloadRespondSent:
		sb.WriteString("✅ *Отклик отправлен*")
	case model.PayloadRespondFailed:
		sb.WriteString("⚠️ *Отклик не отправлен*")
	}
	if p.FilterName != "" {
		sb.WriteString(" · фильтр ")
		sb.WriteString(escapeMarkdown(p.FilterName))
	}
	sb.WriteString("\n\n*")
	sb.WriteString(escapeMarkdown(p.Listing.Title))
	sb.WriteString("*\n")

	if p.Listing.Category != "" {
		sb.WriteString("Категория: ")
		sb.WriteString(escapeMarkdown(p.Listing.Category))
		sb.WriteString("\n")
	}
	if budget := budgetLine(p.Listing); budget != "" {
		sb.WriteString("Бюджет: ")
		sb.WriteString(escapeMarkdown(budget))
		sb.WriteString("\n")
	}
	if p.Note != "" {
		sb.WriteString("\n")
		sb.WriteString(escapeMarkdown(p.Note))
		sb.WriteString("\n")
	}

	return sb.String()
}

// budgetLine renders the budget range; open bounds are elided.
func budgetLine(rec model.Listing) string {
	switch {
	case rec.BudgetMin != nil && rec.BudgetMax != nil:
		return fmt.Sprintf("%d – %d", *rec.BudgetMin, *rec.BudgetMax)
	case rec.BudgetMin != nil:
		return fmt.Sprintf("от %d", *rec.BudgetMin)
	case rec.BudgetMax != nil:
		return fmt.Sprintf("до %d", *rec.BudgetMax)
	default:
		return ""
	}
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

// escapeMarkdown escapes MarkdownV2 special characters in untrusted text.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

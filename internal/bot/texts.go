package bot

import (
	"fmt"
	"strings"
)

// texts holds the localized UI strings. English is the fallback for
// any language or key without a translation.
var texts = map[string]map[string]string{
	"en": {
		"welcome":           "🕊️ *Welcome to Yoga Principles Bot!*\n\nPlease choose your language / Пожалуйста, выберите язык:",
		"language_chosen":   "✅ Language saved.",
		"timezone_step":     "🌍 *Step 1 of 3.* Choose your timezone or enter it manually.",
		"timezone_custom":   "🌍 Enter your timezone in IANA format.\n\nExamples: Europe/Moscow, Asia/Tashkent, UTC",
		"timezone_saved":    "✅ Timezone saved.",
		"invalid_timezone":  "⚠️ Unknown timezone. Enter it in IANA format, e.g. Europe/Moscow.",
		"time_step":         "⏰ *Step 2 of 3.* Send the time for your daily message in HH:MM format, e.g. 06:30.",
		"time_saved":        "✅ Time saved.",
		"saved":             "✅ Saved.",
		"invalid_time":      "⚠️ That doesn't look like HH:MM. Try again, e.g. 06:30.",
		"skip_days_step":    "📆 *Step 3 of 3.* Pick days to skip, then press Done.",
		"skip_none":         "🔸 *No days selected* - messages will be sent daily",
		"skip_selected":     "🔸 *Selected days to skip:* %s",
		"skip_all_rejected": "⚠️ You can't skip every day of the week. Deselect at least one day.",
		"setup_complete":    "🎉 *Setup complete!*\n\nDaily time: %s\nTimezone: %s\nSkip days: %s",
		"already":           "🧘 You are already subscribed. Use /settings to adjust your schedule.",
		"menu":              "What would you like to do?",
		"settings":          "⚙️ *Your settings*\n\nDaily time: %s\nTimezone: %s\nSkip days: %s\nLanguage: %s",
		"unsubscribed":      "😔 You are unsubscribed. Send /start whenever you want to come back.",
		"not_subscribed":    "You are not subscribed yet. Send /start to begin.",
		"test_failed":       "⚠️ Could not deliver a test message right now. Please try again later.",
		"next_at":           "🕓 Your next message arrives at *%s* (%s).",
		"stats":             "📊 *Bot stats*\n\nSubscribers: %d active of %d total\nMessages delivered: %d\nJobs: %d armed, %d created\nScheduler: %s",
		"stats_running":     "running",
		"stats_stopped":     "stopped",
		"unknown":           "I don't know that command. Try /help.",
		"help":              "/start - subscribe and set up your schedule\n/settings - view and change your schedule\n/test - receive a principle right now\n/next - when the next message arrives\n/stats - bot statistics\n/stop - unsubscribe",
		"error":             "⚠️ Something went wrong. Please try again.",
		"btn_done":          "✅ Done",
		"btn_no_skip":       "🚫 No skip days",
		"btn_weekends":      "🏖 Weekends",
		"btn_custom_tz":     "✏️ Enter manually",
		"btn_settings":      "⚙️ Settings",
		"btn_test":          "🧘 Principle now",
		"btn_next":          "🕓 Next message",
		"btn_stop":          "🔕 Unsubscribe",
		"btn_set_time":      "⏰ Change time",
		"btn_set_tz":        "🌍 Change timezone",
		"btn_set_skip":      "📆 Change skip days",
		"btn_set_lang":      "🌐 Change language",
		"btn_back":          "⬅️ Back",
	},
	"ru": {
		"welcome":           "🕊️ *Добро пожаловать в бот «Принципы йоги»!*\n\nPlease choose your language / Пожалуйста, выберите язык:",
		"language_chosen":   "✅ Язык сохранён.",
		"timezone_step":     "🌍 *Шаг 1 из 3.* Выберите часовой пояс или введите его вручную.",
		"timezone_custom":   "🌍 Введите часовой пояс в формате IANA.\n\nНапример: Europe/Moscow, Asia/Tashkent, UTC",
		"timezone_saved":    "✅ Часовой пояс сохранён.",
		"invalid_timezone":  "⚠️ Неизвестный часовой пояс. Введите его в формате IANA, например Europe/Moscow.",
		"time_step":         "⏰ *Шаг 2 из 3.* Отправьте время ежедневного сообщения в формате ЧЧ:ММ, например 06:30.",
		"time_saved":        "✅ Время сохранено.",
		"saved":             "✅ Сохранено.",
		"invalid_time":      "⚠️ Это не похоже на ЧЧ:ММ. Попробуйте ещё раз, например 06:30.",
		"skip_days_step":    "📆 *Шаг 3 из 3.* Отметьте дни для пропуска и нажмите «Готово».",
		"skip_none":         "🔸 *Дни не выбраны* - сообщения будут отправляться ежедневно",
		"skip_selected":     "🔸 *Выбранные дни для пропуска:* %s",
		"skip_all_rejected": "⚠️ Нельзя пропустить все дни недели. Снимите хотя бы один день.",
		"setup_complete":    "🎉 *Настройка завершена!*\n\nВремя: %s\nЧасовой пояс: %s\nДни пропуска: %s",
		"already":           "🧘 Вы уже подписаны. Используйте /settings, чтобы изменить расписание.",
		"menu":              "Что вы хотите сделать?",
		"settings":          "⚙️ *Ваши настройки*\n\nВремя: %s\nЧасовой пояс: %s\nДни пропуска: %s\nЯзык: %s",
		"unsubscribed":      "😔 Вы отписаны. Отправьте /start, когда захотите вернуться.",
		"not_subscribed":    "Вы ещё не подписаны. Отправьте /start, чтобы начать.",
		"test_failed":       "⚠️ Не удалось отправить тестовое сообщение. Попробуйте позже.",
		"next_at":           "🕓 Следующее сообщение придёт в *%s* (%s).",
		"stats":             "📊 *Статистика бота*\n\nПодписчики: %d активных из %d\nСообщений доставлено: %d\nЗадания: %d активных, %d создано\nПланировщик: %s",
		"stats_running":     "работает",
		"stats_stopped":     "остановлен",
		"unknown":           "Я не знаю такую команду. Попробуйте /help.",
		"help":              "/start - подписка и настройка расписания\n/settings - посмотреть и изменить расписание\n/test - получить принцип прямо сейчас\n/next - когда придёт следующее сообщение\n/stats - статистика бота\n/stop - отписаться",
		"error":             "⚠️ Что-то пошло не так. Попробуйте ещё раз.",
		"btn_done":          "✅ Готово",
		"btn_no_skip":       "🚫 Без пропусков",
		"btn_weekends":      "🏖 Выходные",
		"btn_custom_tz":     "✏️ Ввести вручную",
		"btn_settings":      "⚙️ Настройки",
		"btn_test":          "🧘 Принцип сейчас",
		"btn_next":          "🕓 Следующее сообщение",
		"btn_stop":          "🔕 Отписаться",
		"btn_set_time":      "⏰ Изменить время",
		"btn_set_tz":        "🌍 Изменить часовой пояс",
		"btn_set_skip":      "📆 Изменить дни пропуска",
		"btn_set_lang":      "🌐 Изменить язык",
		"btn_back":          "⬅️ Назад",
	},
}

var dayNames = map[string][]string{
	"en": {"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
	"ru": {"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"},
}

var languageNames = map[string]string{
	"en": "English",
	"ru": "Русский",
}

func text(lang, key string) string {
	if m, ok := texts[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	return texts["en"][key]
}

func textf(lang, key string, args ...any) string {
	return fmt.Sprintf(text(lang, key), args...)
}

// formatSkipDays renders a skip set as short localized day names.
func formatSkipDays(lang string, days []int) string {
	if len(days) == 0 {
		if lang == "ru" {
			return "Нет"
		}
		return "None"
	}
	names, ok := dayNames[lang]
	if !ok {
		names = dayNames["en"]
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(names) {
			out = append(out, names[d])
		}
	}
	return strings.Join(out, ", ")
}

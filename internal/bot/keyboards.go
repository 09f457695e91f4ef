package bot

import (
	"sort"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"yogabot/pkg/tgui"
)

// Callback data scopes. Payloads are parsed by tgui.Split.
const (
	cbReg      = "reg"  // registration flow
	cbMenu     = "menu" // main menu actions
	cbSettings = "set"  // settings submenu
)

var commonTimezones = []struct{ label, zone string }{
	{"🇷🇺 Moscow +3", "Europe/Moscow"},
	{"🇺🇿 Tashkent +5", "Asia/Tashkent"},
	{"🇰🇿 Almaty +6", "Asia/Almaty"},
	{"🇺🇦 Kyiv +2", "Europe/Kyiv"},
	{"🇩🇪 Berlin +1", "Europe/Berlin"},
	{"🇬🇧 London +0", "Europe/London"},
	{"🇦🇪 Dubai +4", "Asia/Dubai"},
	{"🌐 UTC", "UTC"},
}

func languageKeyboard() *tele.ReplyMarkup {
	codes := make([]string, 0, len(languageNames))
	for code := range languageNames {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	btns := make([]tele.Btn, 0, len(codes))
	for _, code := range codes {
		btns = append(btns, tgui.Btn(languageNames[code], tgui.Data(cbReg, "lang", code)))
	}
	return tgui.Grid(2, btns)
}

func timezoneKeyboard(lang string) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(commonTimezones))
	for _, tz := range commonTimezones {
		btns = append(btns, tgui.Btn(tz.label, tgui.Data(cbReg, "tz", tz.zone)))
	}
	rm := tgui.Grid(2, btns)
	custom := tgui.Btn(text(lang, "btn_custom_tz"), tgui.Data(cbReg, "tz", "custom"))
	rm.InlineKeyboard = append(rm.InlineKeyboard, []tele.InlineButton{*custom.Inline()})
	return rm
}

// skipDaysKeyboard renders the weekday toggle grid with a check mark on
// selected days, plus quick picks and a finish button.
func skipDaysKeyboard(lang string, selected []int) *tele.ReplyMarkup {
	names, ok := dayNames[lang]
	if !ok {
		names = dayNames["en"]
	}
	sel := map[int]bool{}
	for _, d := range selected {
		sel[d] = true
	}

	btns := make([]tele.Btn, 0, 7)
	for d := 0; d < 7; d++ {
		label := names[d]
		if sel[d] {
			label = "✅ " + label
		}
		btns = append(btns, tgui.Btn(label, tgui.Data(cbReg, "skip", strconv.Itoa(d))))
	}
	rm := tgui.Grid(4, btns)
	rm.InlineKeyboard = append(rm.InlineKeyboard,
		[]tele.InlineButton{
			*tgui.Btn(text(lang, "btn_no_skip"), tgui.Data(cbReg, "skip", "none")).Inline(),
			*tgui.Btn(text(lang, "btn_weekends"), tgui.Data(cbReg, "skip", "weekends")).Inline(),
		},
		[]tele.InlineButton{
			*tgui.Btn(text(lang, "btn_done"), tgui.Data(cbReg, "skip", "finish")).Inline(),
		},
	)
	return rm
}

func mainMenuKeyboard(lang string) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn(text(lang, "btn_test"), tgui.Data(cbMenu, "test", ""))).
		Row(tgui.Btn(text(lang, "btn_next"), tgui.Data(cbMenu, "next", ""))).
		Row(tgui.Btn(text(lang, "btn_settings"), tgui.Data(cbMenu, "settings", ""))).
		Row(tgui.Btn(text(lang, "btn_stop"), tgui.Data(cbMenu, "stop", ""))).
		Markup()
}

func settingsKeyboard(lang string) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn(text(lang, "btn_set_time"), tgui.Data(cbSettings, "time", ""))).
		Row(tgui.Btn(text(lang, "btn_set_tz"), tgui.Data(cbSettings, "tz", ""))).
		Row(tgui.Btn(text(lang, "btn_set_skip"), tgui.Data(cbSettings, "skip", ""))).
		Row(tgui.Btn(text(lang, "btn_set_lang"), tgui.Data(cbSettings, "lang", ""))).
		Row(tgui.Btn(text(lang, "btn_back"), tgui.Data(cbSettings, "back", ""))).
		Markup()
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"yogabot/internal/delivery"
	"yogabot/internal/domain"
	"yogabot/internal/storage"
	kit "yogabot/internal/transport"
	logx "yogabot/pkg/logx"
	"yogabot/pkg/tgui"
)

func (s *Service) handleMessage(ctx context.Context, msg *kit.Message) {
	txt := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(txt, "/") {
		s.handleCommand(ctx, msg, txt)
		return
	}
	// Free text only matters inside a dialog step.
	sess, ok := s.sessions.get(msg.ChatID)
	if !ok {
		return
	}
	switch sess.step {
	case stepTimezoneManual:
		s.applyTimezone(ctx, msg.ChatID, sess, txt)
	case stepTime:
		s.applyTime(ctx, msg.ChatID, sess, txt)
	}
}

func (s *Service) handleCommand(ctx context.Context, msg *kit.Message, txt string) {
	cmd := strings.ToLower(strings.Fields(txt)[0])
	cmd = strings.TrimPrefix(cmd, "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}

	lang := s.languageOf(ctx, msg.ChatID)
	s.log.Debug("command received", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", cmd))

	switch cmd {
	case "start":
		s.cmdStart(ctx, msg.ChatID)
	case "stop":
		s.cmdStop(ctx, msg.ChatID)
	case "settings":
		s.cmdSettings(ctx, msg.ChatID, 0)
	case "test":
		s.cmdTest(ctx, msg.ChatID)
	case "next":
		s.cmdNext(ctx, msg.ChatID)
	case "stats":
		s.cmdStats(ctx, msg.ChatID)
	case "help":
		_, _ = s.send(ctx, msg.ChatID, text(lang, "help"), "help", nil)
	default:
		_, _ = s.send(ctx, msg.ChatID, text(lang, "unknown"), "general", nil)
	}
}

// languageOf resolves the chat's stored language, falling back to the
// in-flight session and then to English.
func (s *Service) languageOf(ctx context.Context, chatID int64) string {
	if u, err := s.store.GetUser(ctx, chatID); err == nil {
		return u.Language
	}
	if sess, ok := s.sessions.get(chatID); ok && sess.language != "" {
		return sess.language
	}
	return domain.DefaultLanguage
}

func (s *Service) cmdStart(ctx context.Context, chatID int64) {
	u, err := s.store.GetUser(ctx, chatID)
	if err == nil && u.Active {
		_, _ = s.send(ctx, chatID, text(u.Language, "already"), "menu", s.optWith(mainMenuKeyboard(u.Language)))
		return
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error("load user failed", logx.Int64("chat_id", chatID), logx.Err(err))
		_, _ = s.send(ctx, chatID, text("en", "error"), "general", nil)
		return
	}

	s.sessions.drop(chatID)
	ref, err := s.send(ctx, chatID, text("en", "welcome"), "welcome", s.optWith(languageKeyboard()))
	if err != nil {
		return
	}
	s.sessions.put(chatID, &session{step: stepNone, dialogRef: ref.MessageID})
}

func (s *Service) cmdStop(ctx context.Context, chatID int64) {
	lang := s.languageOf(ctx, chatID)
	s.sessions.drop(chatID)
	s.clearDialog(ctx, chatID)

	err := s.store.DeactivateUser(ctx, chatID)
	switch {
	case err == nil:
		s.sched.RemoveUser(chatID)
		_, _ = s.send(ctx, chatID, text(lang, "unsubscribed"), "general", nil)
	case errors.Is(err, storage.ErrNotFound):
		_, _ = s.send(ctx, chatID, text(lang, "not_subscribed"), "general", nil)
	default:
		s.log.Error("deactivate failed", logx.Int64("chat_id", chatID), logx.Err(err))
		_, _ = s.send(ctx, chatID, text(lang, "error"), "general", nil)
	}
}

// cmdSettings shows the settings summary. When messageID is non-zero the
// existing dialog message is edited instead of sending a new one.
func (s *Service) cmdSettings(ctx context.Context, chatID int64, messageID int) {
	u, err := s.store.GetUser(ctx, chatID)
	if err != nil || !u.Active {
		lang := s.languageOf(ctx, chatID)
		_, _ = s.send(ctx, chatID, text(lang, "not_subscribed"), "general", nil)
		return
	}
	body := textf(u.Language, "settings",
		u.SendTime, u.Timezone, formatSkipDays(u.Language, u.SkipDays), languageNames[u.Language])
	opt := s.optWith(settingsKeyboard(u.Language))
	if messageID != 0 {
		if s.edit(ctx, chatID, messageID, body, opt) == nil {
			return
		}
	}
	_, _ = s.send(ctx, chatID, body, "menu", opt)
}

func (s *Service) cmdTest(ctx context.Context, chatID int64) {
	u, err := s.store.GetUser(ctx, chatID)
	if err != nil || !u.Active {
		lang := s.languageOf(ctx, chatID)
		_, _ = s.send(ctx, chatID, text(lang, "not_subscribed"), "general", nil)
		return
	}
	res, err := s.sched.SendNow(ctx, chatID)
	if err != nil || res.Outcome != delivery.Success {
		s.log.Warn("test send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		_, _ = s.send(ctx, chatID, text(u.Language, "test_failed"), "general", nil)
	}
}

func (s *Service) cmdNext(ctx context.Context, chatID int64) {
	u, err := s.store.GetUser(ctx, chatID)
	if err != nil || !u.Active {
		lang := s.languageOf(ctx, chatID)
		_, _ = s.send(ctx, chatID, text(lang, "not_subscribed"), "general", nil)
		return
	}
	fireAt, ok := s.sched.NextFire(chatID)
	if !ok {
		// No armed job; compute what the next one will be.
		fireAt, err = domain.NextSendInstant(u.Timezone, u.SendTime, u.SkipDays, time.Now())
		if err != nil {
			_, _ = s.send(ctx, chatID, text(u.Language, "error"), "general", nil)
			return
		}
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := fireAt.In(loc)
	_, _ = s.send(ctx, chatID,
		textf(u.Language, "next_at", local.Format("15:04, Mon 02 Jan"), u.Timezone),
		"general", nil)
}

func (s *Service) cmdStats(ctx context.Context, chatID int64) {
	lang := s.languageOf(ctx, chatID)
	if s.cfg.OwnerID != 0 && chatID != s.cfg.OwnerID {
		_, _ = s.send(ctx, chatID, text(lang, "unknown"), "general", nil)
		return
	}
	st, err := s.store.Stats(ctx)
	if err != nil {
		s.log.Error("stats failed", logx.Err(err))
		_, _ = s.send(ctx, chatID, text(lang, "error"), "general", nil)
		return
	}
	running := text(lang, "stats_stopped")
	if s.sched.Running() {
		running = text(lang, "stats_running")
	}
	_, _ = s.send(ctx, chatID,
		textf(lang, "stats", st.ActiveUsers, st.TotalUsers, st.MessagesSent,
			s.sched.PendingJobs(), s.sched.JobsCreated(), running),
		"general", nil)
}

// ---- callbacks ----

func (s *Service) handleCallback(ctx context.Context, cb *kit.Callback) {
	scope, action, payload, ok := tgui.Split(cb.Data)
	if !ok {
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	defer func() { _ = s.adapter.AnswerCallback(ctx, cb.ID, "") }()

	s.log.Debug("callback received",
		logx.Int64("chat_id", cb.ChatID),
		logx.String("data", scope+":"+action))

	switch scope {
	case cbReg:
		s.handleRegCallback(ctx, cb, action, payload)
	case cbMenu:
		s.handleMenuCallback(ctx, cb, action)
	case cbSettings:
		s.handleSettingsCallback(ctx, cb, action)
	}
}

func (s *Service) handleRegCallback(ctx context.Context, cb *kit.Callback, action, payload string) {
	switch action {
	case "lang":
		s.regLanguage(ctx, cb, payload)
	case "tz":
		s.regTimezone(ctx, cb, payload)
	case "skip":
		s.regSkipDay(ctx, cb, payload)
	}
}

func (s *Service) regLanguage(ctx context.Context, cb *kit.Callback, lang string) {
	if _, ok := texts[lang]; !ok {
		lang = domain.DefaultLanguage
	}

	u, err := s.store.GetUser(ctx, cb.ChatID)
	if err == nil && u.Active {
		// Existing subscriber changing language.
		u.Language = lang
		if err := s.store.SaveUser(ctx, u); err != nil {
			s.log.Error("save language failed", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
			_ = s.edit(ctx, cb.ChatID, cb.MessageID, text(lang, "error"), nil)
			return
		}
		body := text(lang, "language_chosen") + "\n\n" + text(lang, "menu")
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, body, s.optWith(mainMenuKeyboard(lang)))
		return
	}

	sess := &session{step: stepTimezone, language: lang, dialogRef: cb.MessageID}
	s.sessions.put(cb.ChatID, sess)
	body := text(lang, "language_chosen") + "\n\n" + text(lang, "timezone_step")
	_ = s.edit(ctx, cb.ChatID, cb.MessageID, body, s.optWith(timezoneKeyboard(lang)))
}

func (s *Service) regTimezone(ctx context.Context, cb *kit.Callback, zone string) {
	sess, ok := s.sessions.get(cb.ChatID)
	if !ok || (sess.step != stepTimezone && sess.step != stepTimezoneManual) {
		return
	}
	if zone == "custom" {
		sess.step = stepTimezoneManual
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, text(sess.language, "timezone_custom"), nil)
		return
	}
	sess.dialogRef = cb.MessageID
	s.applyTimezone(ctx, cb.ChatID, sess, zone)
}

// applyTimezone handles both button picks and manual text entry.
func (s *Service) applyTimezone(ctx context.Context, chatID int64, sess *session, zone string) {
	zone = strings.TrimSpace(zone)
	if err := domain.ValidateTimezone(zone); err != nil {
		_ = s.edit(ctx, chatID, sess.dialogRef, text(sess.language, "invalid_timezone"), nil)
		return
	}
	sess.timezone = zone

	if sess.changing {
		s.saveSetting(ctx, chatID, sess, func(u *domain.User) { u.Timezone = zone }, "timezone_saved")
		return
	}
	sess.step = stepTime
	body := text(sess.language, "timezone_saved") + "\n\n" + text(sess.language, "time_step")
	_ = s.edit(ctx, chatID, sess.dialogRef, body, nil)
}

func (s *Service) applyTime(ctx context.Context, chatID int64, sess *session, raw string) {
	h, m, err := domain.ParseSendTime(raw)
	if err != nil {
		_ = s.edit(ctx, chatID, sess.dialogRef, text(sess.language, "invalid_time"), nil)
		return
	}
	sendTime := fmt.Sprintf("%02d:%02d", h, m)
	sess.sendTime = sendTime

	if sess.changing {
		s.saveSetting(ctx, chatID, sess, func(u *domain.User) { u.SendTime = sendTime }, "time_saved")
		return
	}
	sess.step = stepSkipDays
	sess.skipDays = nil
	body := text(sess.language, "time_saved") + "\n\n" +
		text(sess.language, "skip_days_step") + "\n\n" + text(sess.language, "skip_none")
	_ = s.edit(ctx, chatID, sess.dialogRef, body, s.optWith(skipDaysKeyboard(sess.language, nil)))
}

func (s *Service) regSkipDay(ctx context.Context, cb *kit.Callback, payload string) {
	sess, ok := s.sessions.get(cb.ChatID)
	if !ok || sess.step != stepSkipDays {
		return
	}
	lang := sess.language

	switch payload {
	case "finish":
		s.finishSkipDays(ctx, cb, sess)
		return
	case "none":
		sess.skipDays = nil
	case "weekends":
		sess.skipDays = []int{5, 6}
	default:
		d, err := strconv.Atoi(payload)
		if err != nil || d < 0 || d > 6 {
			return
		}
		sess.skipDays = toggleDay(sess.skipDays, d)
	}

	body := text(lang, "skip_days_step") + "\n\n"
	if len(sess.skipDays) == 0 {
		body += text(lang, "skip_none")
	} else {
		body += textf(lang, "skip_selected", formatSkipDays(lang, sess.skipDays))
	}
	_ = s.edit(ctx, cb.ChatID, cb.MessageID, body, s.optWith(skipDaysKeyboard(lang, sess.skipDays)))
}

func (s *Service) finishSkipDays(ctx context.Context, cb *kit.Callback, sess *session) {
	lang := sess.language
	if err := domain.ValidateSkipDays(sess.skipDays); err != nil {
		body := text(lang, "skip_days_step") + "\n\n" + text(lang, "skip_all_rejected")
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, body, s.optWith(skipDaysKeyboard(lang, sess.skipDays)))
		return
	}

	if sess.changing {
		days := append([]int(nil), sess.skipDays...)
		s.saveSetting(ctx, cb.ChatID, sess, func(u *domain.User) { u.SkipDays = days }, "saved")
		return
	}

	u := domain.NewUser(cb.ChatID)
	u.Language = sess.language
	u.Timezone = sess.timezone
	u.SendTime = sess.sendTime
	u.SkipDays = append([]int(nil), sess.skipDays...)

	if err := s.store.SaveUser(ctx, u); err != nil {
		s.log.Error("save user failed", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, text(lang, "error"), nil)
		return
	}
	if _, err := s.sched.ScheduleUser(u); err != nil {
		s.log.Error("schedule user failed", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
	}
	s.sessions.drop(cb.ChatID)

	body := textf(lang, "setup_complete", u.SendTime, u.Timezone, formatSkipDays(lang, u.SkipDays)) +
		"\n\n" + text(lang, "menu")
	_ = s.edit(ctx, cb.ChatID, cb.MessageID, body, s.optWith(mainMenuKeyboard(lang)))
}

// saveSetting persists one changed field on an active subscription and
// reschedules its job.
func (s *Service) saveSetting(ctx context.Context, chatID int64, sess *session, mutate func(*domain.User), confirmKey string) {
	u, err := s.store.GetUser(ctx, chatID)
	if err != nil {
		s.log.Error("load user failed", logx.Int64("chat_id", chatID), logx.Err(err))
		_ = s.edit(ctx, chatID, sess.dialogRef, text(sess.language, "error"), nil)
		return
	}
	mutate(u)
	if err := s.store.SaveUser(ctx, u); err != nil {
		s.log.Error("save user failed", logx.Int64("chat_id", chatID), logx.Err(err))
		_ = s.edit(ctx, chatID, sess.dialogRef, text(sess.language, "error"), nil)
		return
	}
	if _, err := s.sched.ScheduleUser(u); err != nil {
		s.log.Error("reschedule failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	s.sessions.drop(chatID)

	body := text(u.Language, confirmKey) + "\n\n" + text(u.Language, "menu")
	_ = s.edit(ctx, chatID, sess.dialogRef, body, s.optWith(mainMenuKeyboard(u.Language)))
}

func (s *Service) handleMenuCallback(ctx context.Context, cb *kit.Callback, action string) {
	switch action {
	case "test":
		s.cmdTest(ctx, cb.ChatID)
	case "next":
		s.cmdNext(ctx, cb.ChatID)
	case "settings":
		s.cmdSettings(ctx, cb.ChatID, cb.MessageID)
	case "stop":
		s.cmdStop(ctx, cb.ChatID)
	}
}

func (s *Service) handleSettingsCallback(ctx context.Context, cb *kit.Callback, action string) {
	u, err := s.store.GetUser(ctx, cb.ChatID)
	if err != nil || !u.Active {
		return
	}
	lang := u.Language

	switch action {
	case "back":
		body := text(lang, "menu")
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, body, s.optWith(mainMenuKeyboard(lang)))
	case "lang":
		s.sessions.drop(cb.ChatID)
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, text(lang, "welcome"), s.optWith(languageKeyboard()))
	case "tz":
		s.sessions.put(cb.ChatID, &session{
			step: stepTimezone, language: lang, changing: true, dialogRef: cb.MessageID,
		})
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, text(lang, "timezone_step"), s.optWith(timezoneKeyboard(lang)))
	case "time":
		s.sessions.put(cb.ChatID, &session{
			step: stepTime, language: lang, changing: true, dialogRef: cb.MessageID,
		})
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, text(lang, "time_step"), nil)
	case "skip":
		s.sessions.put(cb.ChatID, &session{
			step: stepSkipDays, language: lang, changing: true, dialogRef: cb.MessageID,
			skipDays: append([]int(nil), u.SkipDays...),
		})
		body := text(lang, "skip_days_step") + "\n\n"
		if len(u.SkipDays) == 0 {
			body += text(lang, "skip_none")
		} else {
			body += textf(lang, "skip_selected", formatSkipDays(lang, u.SkipDays))
		}
		_ = s.edit(ctx, cb.ChatID, cb.MessageID, body, s.optWith(skipDaysKeyboard(lang, u.SkipDays)))
	}
}

func toggleDay(days []int, d int) []int {
	for i, v := range days {
		if v == d {
			return append(days[:i], days[i+1:]...)
		}
	}
	days = append(days, d)
	sort.Ints(days)
	return days
}

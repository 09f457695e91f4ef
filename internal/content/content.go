package content

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "yogabot/pkg/logx"
)

//go:embed principles.json
var defaultsFS embed.FS

// ErrNoContent reports an empty pool for the requested language.
var ErrNoContent = errors.New("no content available")

const fallbackLanguage = "en"

// Principle is one deliverable piece of content.
type Principle struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Emoji            string `json:"emoji"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	PracticeTip      string `json:"practice_tip"`
}

type Config struct {
	Path      string // optional override; embedded defaults used when empty
	ImagesDir string // optional; no attachments when empty
}

// Library holds per-language principle pools.
type Library struct {
	cfg Config
	log logx.Logger

	mu    sync.RWMutex
	pools map[string][]Principle
}

func Load(cfg Config, log logx.Logger) (*Library, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	lib := &Library{cfg: cfg, log: log}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Reload re-reads the content file. Safe to call while the library is in use.
func (l *Library) Reload() error {
	var raw []byte
	var err error
	if strings.TrimSpace(l.cfg.Path) != "" {
		raw, err = os.ReadFile(l.cfg.Path)
	} else {
		raw, err = defaultsFS.ReadFile("principles.json")
	}
	if err != nil {
		return fmt.Errorf("content: read: %w", err)
	}

	pools := map[string][]Principle{}
	if err := json.Unmarshal(raw, &pools); err != nil {
		return fmt.Errorf("content: decode: %w", err)
	}
	if len(pools[fallbackLanguage]) == 0 {
		return fmt.Errorf("content: %w for fallback language %q", ErrNoContent, fallbackLanguage)
	}

	l.mu.Lock()
	l.pools = pools
	l.mu.Unlock()

	total := 0
	for _, p := range pools {
		total += len(p)
	}
	l.log.Info("content loaded", logx.Int("languages", len(pools)), logx.Int("principles", total))
	return nil
}

// Random picks a uniformly random principle for the language, falling back
// to the default language pool when the requested one is empty.
func (l *Library) Random(language string) (Principle, error) {
	l.mu.RLock()
	pool := l.pools[language]
	if len(pool) == 0 {
		pool = l.pools[fallbackLanguage]
	}
	l.mu.RUnlock()

	if len(pool) == 0 {
		return Principle{}, fmt.Errorf("%w for language %q", ErrNoContent, language)
	}
	return pool[rand.Intn(len(pool))], nil
}

// ByID looks up a principle by id in the given language.
func (l *Library) ByID(language string, id int) (Principle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool := l.pools[language]
	if len(pool) == 0 {
		pool = l.pools[fallbackLanguage]
	}
	for _, p := range pool {
		if p.ID == id {
			return p, true
		}
	}
	return Principle{}, false
}

// Languages returns the language codes with a non-empty pool.
func (l *Library) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.pools))
	for lang, pool := range l.pools {
		if len(pool) > 0 {
			out = append(out, lang)
		}
	}
	return out
}

// ImagePath returns the attachment path for a principle, if one exists on disk.
func (l *Library) ImagePath(id int) (string, bool) {
	dir := strings.TrimSpace(l.cfg.ImagesDir)
	if dir == "" {
		return "", false
	}
	path := filepath.Join(dir, strconv.Itoa(id)+".jpg")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Format renders a principle as a Markdown message body.
func Format(p Principle) string {
	emoji := p.Emoji
	if emoji == "" {
		emoji = "🧘"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** %s\n\n", p.Name, emoji)
	if p.ShortDescription != "" {
		b.WriteString(p.ShortDescription)
		b.WriteString("\n\n")
	}
	if p.Description != "" {
		b.WriteString(p.Description)
		b.WriteString("\n\n")
	}
	if p.PracticeTip != "" {
		fmt.Fprintf(&b, "💡 *%s*", p.PracticeTip)
	}
	return strings.TrimRight(b.String(), "\n")
}

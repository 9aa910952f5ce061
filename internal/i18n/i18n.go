// Package i18n holds the localisation catalog for user-visible strings:
// error messages and the interrupted-generation token appended to aborted
// assistant turns. The selected language persists under settings.json so it
// survives restarts.
package i18n

import (
	"sync"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
)

// Language is one entry of the catalog returned by /index/get_languages.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var languages = []Language{
	{Code: "en", Name: "English"},
	{Code: "zh", Name: "简体中文"},
}

var messages = map[string]map[string]string{
	"en": {
		"chat.interrupted":       "\n[The response was unexpectedly interrupted]",
		"chat.stream_error":      "\n[ERROR]",
		"error.not_found":        "not found",
		"error.invalid_request":  "invalid request",
		"error.conflict":         "conflict",
		"error.upstream_failure": "the model endpoint returned an error",
		"error.upstream_timeout": "the model endpoint timed out",
		"error.canceled":         "request canceled",
		"error.storage_failure":  "failed to read or write local data",
		"error.internal":         "internal error",
	},
	"zh": {
		"chat.interrupted":       "\n[回复意外中断]",
		"chat.stream_error":      "\n[错误]",
		"error.not_found":        "未找到",
		"error.invalid_request":  "请求参数错误",
		"error.conflict":         "操作冲突",
		"error.upstream_failure": "模型接口返回错误",
		"error.upstream_timeout": "模型接口超时",
		"error.canceled":         "请求已取消",
		"error.storage_failure":  "本地数据读写失败",
		"error.internal":         "内部错误",
	},
}

type settings struct {
	Language string `json:"language"`
}

// Catalog resolves localized strings for the active language.
type Catalog struct {
	mu    sync.RWMutex
	lang  string
	store *objstore.Store
}

// New loads the persisted language selection, defaulting to English.
func New(store *objstore.Store) *Catalog {
	c := &Catalog{lang: "en", store: store}
	var s settings
	if ok, _ := store.Read("settings.json", &s); ok && s.Language != "" {
		if _, known := messages[s.Language]; known {
			c.lang = s.Language
		}
	}
	return c
}

// Languages returns the available language catalog.
func (c *Catalog) Languages() []Language { return languages }

// Language returns the active language code.
func (c *Catalog) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lang
}

// SetLanguage switches and persists the active language.
func (c *Catalog) SetLanguage(code string) error {
	if _, ok := messages[code]; !ok {
		return errs.New(errs.InvalidRequest, "unknown language %q", code)
	}
	c.mu.Lock()
	c.lang = code
	c.mu.Unlock()
	return c.store.Write("settings.json", settings{Language: code})
}

// T looks up a localized string, falling back to English, then to the key.
func (c *Catalog) T(key string) string {
	c.mu.RLock()
	lang := c.lang
	c.mu.RUnlock()
	if msg, ok := messages[lang][key]; ok {
		return msg
	}
	if msg, ok := messages["en"][key]; ok {
		return msg
	}
	return key
}

// Interrupted returns the localized token appended to aborted turns.
func (c *Catalog) Interrupted() string { return c.T("chat.interrupted") }

// ErrorMessage localizes an error kind for the envelope's error_msg field.
func (c *Catalog) ErrorMessage(kind errs.Kind) string {
	return c.T("error." + string(kind))
}

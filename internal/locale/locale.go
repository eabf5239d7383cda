// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package locale renders user-facing text in English or Japanese.
//
// Error text shown in a transcript never contains raw error output; only the
// HTTP status, the model name and a short description of an unexpected
// failure are substituted into the templates.
package locale

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/enablerdao/ChirAI/internal/ollama"
)

// Message keys.
const (
	KeyNetworkUnavailable = "error.network_unavailable"
	KeyServerError        = "error.server_error"
	KeyModelNotFound      = "error.model_not_found"
	KeyMalformedResponse  = "error.malformed_response"
	KeyUnknown            = "error.unknown"
	KeyInvalidInput       = "error.invalid_input"
	KeyModelSwitched      = "notice.model_switched"
	KeyWelcome            = "notice.welcome"
	KeyCleared            = "notice.cleared"
)

var entries = map[language.Tag]map[string]string{
	language.English: {
		KeyNetworkUnavailable: "Could not reach the model server. Make sure Ollama is running and try again.",
		KeyServerError:        "The model server returned an error (status %d). Please try again in a moment.",
		KeyModelNotFound:      "Model '%s' was not found. Please choose one of the available models.",
		KeyMalformedResponse:  "The model server sent a response that could not be read. Please try again.",
		KeyUnknown:            "Something went wrong: %s. Please try again.",
		KeyInvalidInput:       "Please enter a message.",
		KeyModelSwitched:      "Switched model to %s.",
		KeyWelcome:            "Welcome to ChirAI! Chat privately with AI running on your own machine.",
		KeyCleared:            "Conversation cleared.",
	},
	language.Japanese: {
		KeyNetworkUnavailable: "ネットワークエラー: サーバーに接続できません。Ollamaが起動していることを確認してください",
		KeyServerError:        "サーバーエラーが発生しました（ステータス %d）。しばらく待ってから再試行してください",
		KeyModelNotFound:      "モデル '%s' が見つかりません。利用可能なモデルから選択してください",
		KeyMalformedResponse:  "無効な応答を受信しました。再試行してください",
		KeyUnknown:            "予期しないエラー: %s",
		KeyInvalidInput:       "メッセージを入力してください",
		KeyModelSwitched:      "モデルを %s に切り替えました",
		KeyWelcome:            "🌸 ChirAIへようこそ！プライバシーを保護しながら、Ollamaと連携してAIと会話できます。",
		KeyCleared:            "会話をクリアしました",
	},
}

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range entries {
		for key, text := range msgs {
			if err := b.SetString(tag, key, text); err != nil {
				panic("locale: bad catalog entry " + key + ": " + err.Error())
			}
		}
	}
	return b
}

var matcher = language.NewMatcher([]language.Tag{language.English, language.Japanese})

// Localizer formats messages for one language. It is safe for concurrent use.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Localizer for lang ("en", "ja", "ja-JP", ...). Unknown or
// empty languages fall back to English.
func New(lang string) *Localizer {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			_, idx, conf := matcher.Match(parsed)
			if conf != language.No {
				tag = []language.Tag{language.English, language.Japanese}[idx]
			}
		}
	}
	return &Localizer{tag: tag, printer: message.NewPrinter(tag, message.Catalog(cat))}
}

// Language returns the base language code in use.
func (l *Localizer) Language() string {
	base, _ := l.tag.Base()
	return base.String()
}

// Text formats the message for key.
func (l *Localizer) Text(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}

// Error returns the user-facing text for a failed completion.
func (l *Localizer) Error(err error) string {
	switch ollama.KindOf(err) {
	case ollama.KindNetworkUnavailable:
		return l.Text(KeyNetworkUnavailable)
	case ollama.KindServerError:
		return l.Text(KeyServerError, ollama.StatusOf(err))
	case ollama.KindModelNotFound:
		return l.Text(KeyModelNotFound, modelOf(err))
	case ollama.KindMalformedResponse:
		return l.Text(KeyMalformedResponse)
	case ollama.KindInvalidInput:
		return l.Text(KeyInvalidInput)
	default:
		return l.Text(KeyUnknown, descriptionOf(err))
	}
}

// ModelSwitched returns the notice appended when the model changes.
func (l *Localizer) ModelSwitched(model string) string {
	return l.Text(KeyModelSwitched, model)
}

// Welcome returns the default welcome text.
func (l *Localizer) Welcome() string {
	return l.Text(KeyWelcome)
}

// descriptionOf returns the client's own short description of err. Causes
// and foreign errors are never shown.
func descriptionOf(err error) string {
	var ce *ollama.ClientError
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return "request failed"
}

func modelOf(err error) string {
	var ce *ollama.ClientError
	if errors.As(err, &ce) && ce.Model != "" {
		return ce.Model
	}
	return "?"
}

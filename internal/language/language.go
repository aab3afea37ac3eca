// Package language holds the fixed set of spoken-language codes a client may
// select for live transcription.
package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// None is the selector value meaning "no transcription for this language".
const None = "none"

var (
	ErrNotSelected = errors.New("no transcription language selected")
	ErrUnsupported = errors.New("unsupported transcription language")
)

type Language struct {
	Code string
	Name string
}

var supported = []Language{
	{Code: "ca-ES", Name: "Catalan"},
	{Code: "zh-CN", Name: "Chinese (Simplified)"},
	{Code: "hr-HR", Name: "Croatian"},
	{Code: "cs-CZ", Name: "Czech"},
	{Code: "da-DK", Name: "Danish"},
	{Code: "nl-NL", Name: "Dutch"},
	{Code: "en-US", Name: "English (US)"},
	{Code: "tl-PH", Name: "Filipino"},
	{Code: "fi-FI", Name: "Finnish"},
	{Code: "fr-FR", Name: "French"},
	{Code: "fr-CA", Name: "French (Canada)"},
	{Code: "de-DE", Name: "German"},
	{Code: "el-GR", Name: "Greek"},
	{Code: "he-IL", Name: "Hebrew"},
	{Code: "hi-IN", Name: "Hindi"},
	{Code: "id-ID", Name: "Indonesian"},
	{Code: "it-IT", Name: "Italian"},
	{Code: "ja-JP", Name: "Japanese"},
	{Code: "ko-KR", Name: "Korean"},
	{Code: "lv-LV", Name: "Latvian"},
	{Code: "ms-MY", Name: "Malay"},
	{Code: "pl-PL", Name: "Polish"},
	{Code: "pt-BR", Name: "Portuguese (Brazil)"},
	{Code: "pt-PT", Name: "Portuguese (Portugal)"},
	{Code: "ro-RO", Name: "Romanian"},
	{Code: "ru-RU", Name: "Russian"},
	{Code: "sr-RS", Name: "Serbian"},
	{Code: "sk-SK", Name: "Slovak"},
	{Code: "so-SO", Name: "Somali"},
	{Code: "es-ES", Name: "Spanish"},
	{Code: "es-US", Name: "Spanish (US)"},
	{Code: "sv-SE", Name: "Swedish"},
	{Code: "th-TH", Name: "Thai"},
	{Code: "uk-UA", Name: "Ukrainian"},
	{Code: "vi-VN", Name: "Vietnamese"},
}

var byLowerCode = func() map[string]Language {
	m := make(map[string]Language, len(supported))
	for _, l := range supported {
		m[strings.ToLower(l.Code)] = l
	}
	return m
}()

// Resolve maps a client selector onto a supported language. Matching is
// case-insensitive and the returned Code is always the canonical form.
// An empty selector or the None sentinel yields ErrNotSelected; any other
// unknown value yields ErrUnsupported.
func Resolve(selector string) (Language, error) {
	s := strings.TrimSpace(selector)
	if s == "" || strings.EqualFold(s, None) {
		return Language{}, ErrNotSelected
	}
	l, ok := byLowerCode[strings.ToLower(s)]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	return l, nil
}

// Codes returns the canonical codes in lexical order.
func Codes() []string {
	codes := make([]string, 0, len(supported))
	for _, l := range supported {
		codes = append(codes, l.Code)
	}
	sort.Strings(codes)
	return codes
}

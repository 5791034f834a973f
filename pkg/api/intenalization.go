package api

import (
	"net/http"
	"strings"
)

func normalizeLanguage(s string) string {
	if strings.HasPrefix(s, "ru") {
		return "ru"
	}
	return "en"
}

func requestLanguage(r *http.Request) string {
	return normalizeLanguage(strings.ToLower(strings.TrimSpace(r.Header.Get("Accept-Language"))))
}

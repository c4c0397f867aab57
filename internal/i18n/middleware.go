package i18n

import (
	"net/http"
	"strings"
)

// Middleware injects a localizer into every request context. The language is
// chosen per request: an explicit ?lang= parameter wins, then the first
// supported Accept-Language entry, then the configured default.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := requestLang(r, defaultLang)
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLang(r *http.Request, defaultLang string) string {
	if q := r.URL.Query().Get("lang"); IsSupported(q) {
		return q
	}
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if i := strings.IndexByte(tag, '-'); i > 0 {
			tag = tag[:i]
		}
		if IsSupported(tag) {
			return tag
		}
	}
	return defaultLang
}

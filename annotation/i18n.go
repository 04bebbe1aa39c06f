package annotation

import (
	"context"
	"embed"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

var locales = []string{"en", "zh-CN"}

var bundle *i18n.Bundle

type localizerKey struct{}

func init() {
	bundle = i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	for _, locale := range locales {
		data, err := localesFS.ReadFile("locales/" + locale + ".json")
		if err != nil {
			panic(err)
		}
		bundle.MustParseMessageFileBytes(data, locale+".json")
	}
}

// NewLocalizer picks a language from an Accept-Language header value.
// go-i18n parses the quality values itself.
func NewLocalizer(acceptLanguage string) *i18n.Localizer {
	if acceptLanguage == "" {
		return i18n.NewLocalizer(bundle, locales[0])
	}
	return i18n.NewLocalizer(bundle, acceptLanguage, locales[0])
}

// WithLocalizer adds a localizer to the context
func WithLocalizer(ctx context.Context, localizer *i18n.Localizer) context.Context {
	return context.WithValue(ctx, localizerKey{}, localizer)
}

// GetLocalizerFromContext retrieves the localizer from context, or returns the default one
func GetLocalizerFromContext(ctx context.Context) *i18n.Localizer {
	if ctx != nil {
		if localizer, ok := ctx.Value(localizerKey{}).(*i18n.Localizer); ok {
			return localizer
		}
	}
	return NewLocalizer("")
}

// LocalizeWithContext translates a message using the localizer from context
func LocalizeWithContext(ctx context.Context, messageID string) string {
	return LocalizeWithContextAndData(ctx, messageID, nil)
}

// LocalizeWithContextAndData translates a message with template data using context.
// Unknown messages come back as their ID.
func LocalizeWithContextAndData(ctx context.Context, messageID string, data map[string]any) string {
	msg, err := GetLocalizerFromContext(ctx).Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// localizerMiddleware adds the appropriate localizer to the request context
func localizerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		localizer := NewLocalizer(c.GetHeader("Accept-Language"))
		c.Request = c.Request.WithContext(WithLocalizer(c.Request.Context(), localizer))
		c.Next()
	}
}

func localize(c *gin.Context, messageID string, data ...any) string {
	if len(data) == 0 {
		return LocalizeWithContext(c.Request.Context(), messageID)
	}
	return LocalizeWithContextAndData(c.Request.Context(), messageID, map[string]any{"Reason": data[0]})
}

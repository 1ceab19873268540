package tokenstore

import (
	"context"
	"fmt"

	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
)

// Theme is the UI colour scheme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme returns the theme named by s, or false when s is not a theme.
func ParseTheme(s string) (Theme, bool) {
	switch Theme(s) {
	case ThemeLight, ThemeDark:
		return Theme(s), true
	default:
		return "", false
	}
}

// Preferences stores UI preferences next to the session record.
type Preferences struct {
	backend  Backend
	fallback Theme
}

// NewPreferences returns preferences with fallback used until a theme is saved.
func NewPreferences(backend Backend, fallback Theme) *Preferences {
	if _, ok := ParseTheme(string(fallback)); !ok {
		fallback = ThemeLight
	}
	return &Preferences{backend: backend, fallback: fallback}
}

func (p *Preferences) Theme(ctx context.Context) (Theme, error) {
	data, err := p.backend.Read(ctx, KeyTheme)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return p.fallback, nil
	}
	if err != nil {
		return p.fallback, fmt.Errorf("[Preferences Theme] %w", err)
	}
	theme, ok := ParseTheme(string(data))
	if !ok {
		return p.fallback, nil
	}
	return theme, nil
}

func (p *Preferences) SetTheme(ctx context.Context, theme Theme) error {
	if _, ok := ParseTheme(string(theme)); !ok {
		return fmt.Errorf("[Preferences SetTheme] unknown theme %q", theme)
	}
	if err := p.backend.Write(ctx, KeyTheme, []byte(theme)); err != nil {
		return fmt.Errorf("[Preferences SetTheme] %w", err)
	}
	return nil
}

// ToggleTheme flips between light and dark and returns the new theme.
func (p *Preferences) ToggleTheme(ctx context.Context) (Theme, error) {
	current, err := p.Theme(ctx)
	if err != nil {
		return current, err
	}
	next := ThemeDark
	if current == ThemeDark {
		next = ThemeLight
	}
	if err := p.SetTheme(ctx, next); err != nil {
		return current, err
	}
	return next, nil
}

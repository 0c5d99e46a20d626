package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParamGetter is satisfied by paramstore.Client.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// ApplyParameters overrides the summary settings with the values stored
// under ParamPrefix. It is a no-op when no prefix is configured.
func (c *Config) ApplyParameters(ctx context.Context, p ParamGetter) error {
	if c.ParamPrefix == "" {
		return nil
	}
	if p == nil {
		return errors.New("config: param getter must not be nil")
	}

	placeholderName := c.ParamPrefix + "/preview_placeholder"
	maxRunesName := c.ParamPrefix + "/preview_max_runes"
	vals, err := p.GetParameters(ctx, placeholderName, maxRunesName)
	if err != nil {
		return fmt.Errorf("config: load parameters: %w", err)
	}

	rawMax, ok := vals[maxRunesName]
	if !ok {
		return fmt.Errorf("config: missing parameter %q", maxRunesName)
	}
	maxRunes, err := strconv.Atoi(strings.TrimSpace(rawMax))
	if err != nil || maxRunes <= 0 {
		return fmt.Errorf("config: invalid preview_max_runes %q", rawMax)
	}

	if placeholder := strings.TrimSpace(vals[placeholderName]); placeholder != "" {
		c.PreviewPlaceholder = placeholder
	}
	c.PreviewMaxRunes = maxRunes
	return nil
}

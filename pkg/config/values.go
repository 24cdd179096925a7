package config

import (
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/common"
)

func AsBool(item common.ConfigItem) bool {
	return common.EnvToBool(item.Value())
}

func AsInt(item common.ConfigItem, fallback int) int {
	value := item.Value()
	if len(value) == 0 {
		return fallback
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Config value is not an integer", "key", item.Key(), "value", value, common.ErrAttr(err))
		return fallback
	}

	return i
}

func AsDuration(item common.ConfigItem, fallback time.Duration) time.Duration {
	value := item.Value()
	if len(value) == 0 {
		return fallback
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Config value is not a duration", "key", item.Key(), "value", value, common.ErrAttr(err))
		return fallback
	}

	return d
}

func AsURL(item common.ConfigItem) *url.URL {
	value := item.Value()
	if len(value) == 0 {
		return nil
	}

	u, err := url.Parse(value)
	if err != nil {
		slog.Warn("Config value is not a URL", "key", item.Key(), "value", value, common.ErrAttr(err))
		return nil
	}

	return u
}

package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validate() []string {
	var errs []string

	cmd := c.Command
	if cmd.Trigger == "" {
		errs = append(errs, "command.trigger must not be empty")
	} else if !strings.HasPrefix(cmd.Trigger, "/") {
		errs = append(errs, "command.trigger must start with '/'")
	} else if strings.ContainsAny(cmd.Trigger, " @") {
		errs = append(errs, "command.trigger must not contain spaces or '@'")
	}
	if cmd.ReplyTimeoutS < 0 {
		errs = append(errs, "command.replyTimeoutSeconds must be non-negative")
	}

	tg := c.Channels.Telegram
	if tg.Enabled && tg.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled (or set MUSTER_TELEGRAM_TOKEN)")
	}
	if tg.PollTimeoutS < 0 {
		errs = append(errs, "channels.telegram.pollTimeoutSeconds must be non-negative")
	}

	dc := c.Channels.Discord
	if dc.Enabled && dc.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled (or set MUSTER_DISCORD_TOKEN)")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of debug, info, warn, error")
	}

	if c.Heartbeat.Enabled && c.Heartbeat.IntervalS <= 0 {
		errs = append(errs, "heartbeat.intervalSeconds must be positive when enabled")
	}

	return errs
}

// CheckUnknownFields walks the raw config map and returns paths of any keys
// that do not correspond to known Config struct fields.
func CheckUnknownFields(raw map[string]any) []string {
	result := checkUnknownFields(raw, reflect.TypeOf(Config{}), "")
	sort.Strings(result)
	return result
}

func checkUnknownFields(data map[string]any, t reflect.Type, prefix string) []string {
	t = derefType(t)
	if t.Kind() != reflect.Struct {
		return nil
	}

	known := jsonFieldMap(t)
	var unknown []string
	for key, val := range data {
		ft, ok := known[key]
		if !ok {
			unknown = append(unknown, joinPath(prefix, key))
			continue
		}
		if nested, ok := val.(map[string]any); ok {
			unknown = append(unknown, checkUnknownFields(nested, ft, joinPath(prefix, key))...)
		}
	}
	return unknown
}

func jsonFieldMap(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			m[name] = f.Type
		}
	}
	return m
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

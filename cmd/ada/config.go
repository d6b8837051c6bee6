package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ada-ai/ada/internal/config"
	configstore "github.com/ada-ai/ada/internal/config/store"
	"github.com/ada-ai/ada/internal/language"
	"github.com/ada-ai/ada/internal/validate"
)

// Gateway settings live in the plain settings table under these keys. The
// daemon reads them at startup.
const (
	settingGatewayPort    = "gateway.http_port"
	settingAllowedOrigins = "gateway.allowed_origins"
)

// settableKeys lists every key accepted by "ada config set", in display order.
var settableKeys = []string{
	"audio.sample_rate",
	"audio.voice",
	"audio.volume",
	"audio.language",
	"conversation.language",
	"conversation.max_history",
	"conversation.context_window",
	"conversation.response_timeout",
	"vision.camera_index",
	"vision.frame_width",
	"vision.frame_height",
	"vision.frame_rate",
	"vision.detection_enabled",
	settingGatewayPort,
	settingAllowedOrigins,
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:           "config",
		Short:         "Configuration management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	configShowCmd := &cobra.Command{
		Use:           "show",
		Short:         "Show the stored configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configShow,
	}

	configSetCmd := &cobra.Command{
		Use:           "set [key] [value]",
		Short:         "Update one configuration value (restart adad to apply)",
		Long: `Update one configuration value in the local store.

Known keys:
  ` + strings.Join(settableKeys, "\n  ") + `

The daemon reads its configuration at startup, so restart adad after
changing values.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configSet,
	}

	configCmd.AddCommand(configShowCmd, configSetCmd)
	return configCmd
}

// openConfigStore opens the instance store, creating the home layout on
// first use so config commands work before the daemon ever ran.
func openConfigStore(ctx context.Context) (*configstore.Store, error) {
	paths, err := config.EnsureInstanceDirs(flagHome)
	if err != nil {
		return nil, err
	}
	return configstore.Open(ctx, configstore.Options{DBPath: paths.ConfigDB})
}

func configShow(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	st, err := openConfigStore(cmd.Context())
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	values, err := collectSettings(cmd.Context(), st)
	if err != nil {
		return out.Error("Failed to load configuration", err)
	}

	if out.jsonMode {
		return out.Print(values)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%-32s %s\n", key, values[key])
	}
	return nil
}

// collectSettings flattens the stored configuration into the same dotted
// keys "ada config set" accepts. Unset gateway keys are omitted.
func collectSettings(ctx context.Context, st *configstore.Store) (map[string]string, error) {
	audio, err := st.LoadAudioSettings(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := st.LoadConversationSettings(ctx)
	if err != nil {
		return nil, err
	}
	vision, err := st.LoadVisionSettings(ctx)
	if err != nil {
		return nil, err
	}

	values := map[string]string{
		"audio.sample_rate":             strconv.Itoa(audio.SampleRate),
		"audio.voice":                   audio.Voice,
		"audio.volume":                  strconv.FormatFloat(audio.Volume, 'g', -1, 64),
		"audio.language":                audio.Language,
		"conversation.language":         conv.Language,
		"conversation.max_history":      strconv.Itoa(conv.MaxHistory),
		"conversation.context_window":   strconv.Itoa(conv.ContextWindow),
		"conversation.response_timeout": conv.ResponseTimeout.String(),
		"vision.camera_index":           strconv.Itoa(vision.CameraIndex),
		"vision.frame_width":            strconv.Itoa(vision.FrameWidth),
		"vision.frame_height":           strconv.Itoa(vision.FrameHeight),
		"vision.frame_rate":             strconv.Itoa(vision.FrameRate),
		"vision.detection_enabled":      strconv.FormatBool(vision.DetectionEnabled),
	}

	for _, key := range []string{settingGatewayPort, settingAllowedOrigins} {
		value, err := st.GetSetting(ctx, key)
		if err != nil {
			if configstore.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		values[key] = value
	}

	return values, nil
}

func configSet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	key := strings.TrimSpace(args[0])
	value := args[1]

	st, err := openConfigStore(cmd.Context())
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	stored, err := applySetting(cmd.Context(), st, key, value)
	if err != nil {
		return out.Error("Failed to update configuration", err)
	}

	message := fmt.Sprintf("Set %s to %s (restart adad to apply)", key, stored)
	if stored != strings.TrimSpace(value) {
		message = fmt.Sprintf("Set %s to %s, adjusted from %q (restart adad to apply)", key, stored, value)
	}
	return out.Success(message, map[string]interface{}{
		"key":   key,
		"value": stored,
	})
}

// applySetting validates and stores one configuration value, returning the
// value as stored. Module settings go through their typed save paths, which
// may clamp what was requested.
func applySetting(ctx context.Context, st *configstore.Store, key, value string) (string, error) {
	switch key {
	case "audio.sample_rate":
		rate, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("%s expects an integer: %w", key, err)
		}
		settings, err := st.LoadAudioSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.SampleRate = rate
		saved, err := st.SaveAudioSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(saved.SampleRate), nil

	case "audio.voice":
		voice := strings.TrimSpace(value)
		if voice == "" {
			return "", fmt.Errorf("%s must not be empty", key)
		}
		settings, err := st.LoadAudioSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.Voice = voice
		saved, err := st.SaveAudioSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return saved.Voice, nil

	case "audio.volume":
		volume, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return "", fmt.Errorf("%s expects a number between 0 and 1: %w", key, err)
		}
		settings, err := st.LoadAudioSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.Volume = volume
		saved, err := st.SaveAudioSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(saved.Volume, 'g', -1, 64), nil

	case "audio.language":
		lang, ok := language.Normalize(value)
		if !ok {
			return "", fmt.Errorf("unknown language %q", value)
		}
		settings, err := st.LoadAudioSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.Language = lang.ISO1
		saved, err := st.SaveAudioSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return saved.Language, nil

	case "conversation.language":
		lang, ok := language.Normalize(value)
		if !ok {
			return "", fmt.Errorf("unknown language %q", value)
		}
		settings, err := st.LoadConversationSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.Language = lang.ISO1
		saved, err := st.SaveConversationSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return saved.Language, nil

	case "conversation.max_history":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return "", fmt.Errorf("%s expects a positive integer", key)
		}
		settings, err := st.LoadConversationSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.MaxHistory = n
		saved, err := st.SaveConversationSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(saved.MaxHistory), nil

	case "conversation.context_window":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return "", fmt.Errorf("%s expects a positive integer", key)
		}
		settings, err := st.LoadConversationSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.ContextWindow = n
		saved, err := st.SaveConversationSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(saved.ContextWindow), nil

	case "conversation.response_timeout":
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil || d <= 0 {
			return "", fmt.Errorf("%s expects a positive duration such as 10s", key)
		}
		settings, err := st.LoadConversationSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.ResponseTimeout = d
		saved, err := st.SaveConversationSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return saved.ResponseTimeout.String(), nil

	case "vision.camera_index":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return "", fmt.Errorf("%s expects a non-negative integer", key)
		}
		settings, err := st.LoadVisionSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.CameraIndex = n
		saved, err := st.SaveVisionSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(saved.CameraIndex), nil

	case "vision.frame_width", "vision.frame_height":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return "", fmt.Errorf("%s expects a positive integer", key)
		}
		settings, err := st.LoadVisionSettings(ctx)
		if err != nil {
			return "", err
		}
		if key == "vision.frame_width" {
			settings.FrameWidth = n
		} else {
			settings.FrameHeight = n
		}
		saved, err := st.SaveVisionSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		if key == "vision.frame_width" {
			return strconv.Itoa(saved.FrameWidth), nil
		}
		return strconv.Itoa(saved.FrameHeight), nil

	case "vision.frame_rate":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return "", fmt.Errorf("%s expects a positive integer", key)
		}
		settings, err := st.LoadVisionSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.FrameRate = n
		saved, err := st.SaveVisionSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(saved.FrameRate), nil

	case "vision.detection_enabled":
		enabled, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("%s expects true or false", key)
		}
		settings, err := st.LoadVisionSettings(ctx)
		if err != nil {
			return "", err
		}
		settings.DetectionEnabled = enabled
		saved, err := st.SaveVisionSettings(ctx, settings)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(saved.DetectionEnabled), nil

	case settingGatewayPort:
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || port < 0 || port > 65535 {
			return "", fmt.Errorf("%s expects a port between 0 and 65535", key)
		}
		stored := strconv.Itoa(port)
		if err := st.SaveSettings(ctx, map[string]string{key: stored}); err != nil {
			return "", err
		}
		return stored, nil

	case settingAllowedOrigins:
		var origins []string
		for _, origin := range strings.Split(value, ",") {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			if err := validate.HTTPURL(origin); err != nil {
				return "", fmt.Errorf("invalid origin %q: %w", origin, err)
			}
			origins = append(origins, origin)
		}
		if len(origins) == 0 {
			return "", fmt.Errorf("%s expects a comma-separated list of origins", key)
		}
		stored := strings.Join(origins, ",")
		if err := st.SaveSettings(ctx, map[string]string{key: stored}); err != nil {
			return "", err
		}
		return stored, nil
	}

	return "", fmt.Errorf("unknown configuration key %q (known keys: %s)", key, strings.Join(settableKeys, ", "))
}

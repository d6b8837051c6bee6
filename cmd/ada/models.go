package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ada-ai/ada/internal/config"
	"github.com/ada-ai/ada/internal/constants"
	"github.com/ada-ai/ada/internal/language"
	"github.com/ada-ai/ada/internal/models"
)

func newModelsCommand() *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:           "models",
		Short:         "Manage downloaded speech recognition models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	modelsListCmd := &cobra.Command{
		Use:           "list",
		Short:         "List catalog models and their install state",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          modelsList,
	}

	modelsEnsureCmd := &cobra.Command{
		Use:           "ensure [language]",
		Short:         "Download and verify the model for a language",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          modelsEnsure,
	}

	modelsRemoveCmd := &cobra.Command{
		Use:           "remove [language]",
		Short:         "Remove an installed model",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          modelsRemove,
	}

	modelsCmd.AddCommand(modelsListCmd, modelsEnsureCmd, modelsRemoveCmd)
	return modelsCmd
}

// newModelManager opens the instance model directory. Download progress is
// logged to stderr unless JSON output was requested.
func newModelManager(out *OutputFormatter) (*models.Manager, error) {
	paths, err := config.EnsureInstanceDirs(flagHome)
	if err != nil {
		return nil, err
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)
	if out.jsonMode {
		logger = log.New(io.Discard, "", 0)
	}
	return models.New(paths.ModelsDir, models.WithLogger(logger)), nil
}

func modelsList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	manager, err := newModelManager(out)
	if err != nil {
		return out.Error("Failed to open model directory", err)
	}

	installed := manager.Installed()

	if out.jsonMode {
		entries := make([]map[string]interface{}, 0, len(manager.Languages()))
		for _, lang := range manager.Languages() {
			entry := map[string]interface{}{
				"language":  lang,
				"installed": false,
			}
			if info, ok := installed[lang]; ok {
				entry["installed"] = true
				entry["version"] = info.Version
				entry["path"] = info.Path
				entry["downloaded_at"] = info.DownloadedAt
			}
			entries = append(entries, entry)
		}
		return out.Print(map[string]interface{}{"models": entries})
	}

	fmt.Printf("Model directory: %s\n", manager.Dir())
	for _, lang := range manager.Languages() {
		if info, ok := installed[lang]; ok {
			fmt.Printf("  %-4s installed (version %s, %s)\n", lang, info.Version, info.Path)
			continue
		}
		fmt.Printf("  %-4s available\n", lang)
	}
	return nil
}

func modelsEnsure(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	lang, ok := language.Normalize(args[0])
	if !ok {
		return out.Error(fmt.Sprintf("Unknown language %q", args[0]), nil)
	}

	manager, err := newModelManager(out)
	if err != nil {
		return out.Error("Failed to open model directory", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, constants.ModelDownloadTimeout)
	defer cancel()

	if !out.jsonMode {
		fmt.Printf("Ensuring %s model (%s)...\n", lang.EnglishName, lang.ISO1)
	}

	path, err := manager.Ensure(ctx, lang.ISO1)
	if err != nil {
		return out.Error("Failed to download model", err)
	}

	return out.Success(fmt.Sprintf("Model for %s ready at %s", lang.EnglishName, path), map[string]interface{}{
		"language": lang.ISO1,
		"path":     path,
	})
}

func modelsRemove(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	lang, ok := language.Normalize(args[0])
	if !ok {
		return out.Error(fmt.Sprintf("Unknown language %q", args[0]), nil)
	}

	manager, err := newModelManager(out)
	if err != nil {
		return out.Error("Failed to open model directory", err)
	}

	if err := manager.Remove(lang.ISO1); err != nil {
		return out.Error("Failed to remove model", err)
	}

	return out.Success(fmt.Sprintf("Model for %s removed", lang.EnglishName), map[string]interface{}{
		"language": lang.ISO1,
	})
}

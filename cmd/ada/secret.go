package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	configstore "github.com/ada-ai/ada/internal/config/store"
	"github.com/ada-ai/ada/internal/validate"
)

func newSecretCommand() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:           "secret",
		Short:         "Manage encrypted secrets (API keys, tokens)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	secretSetCmd := &cobra.Command{
		Use:           "set [name]",
		Short:         "Store a secret, prompting for its value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          secretSet,
	}

	secretListCmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored secret names (values stay hidden)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          secretList,
	}

	secretDeleteCmd := &cobra.Command{
		Use:           "delete [name]",
		Short:         "Delete a secret",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          secretDelete,
	}

	secretCmd.AddCommand(secretSetCmd, secretListCmd, secretDeleteCmd)
	return secretCmd
}

func secretSet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	name := strings.TrimSpace(args[0])

	if !validate.Ident(name) {
		return out.Error(fmt.Sprintf("Invalid secret name %q", name), nil)
	}

	value, err := readSecretValue(cmd)
	if err != nil {
		return out.Error("Failed to read secret value", err)
	}
	if value == "" {
		return out.Error("Secret value must not be empty", nil)
	}

	st, err := openConfigStore(cmd.Context())
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	if err := st.SaveSecret(cmd.Context(), name, value); err != nil {
		return out.Error("Failed to save secret", err)
	}

	return out.Success(fmt.Sprintf("Secret %s saved", name), map[string]interface{}{
		"name": name,
	})
}

// readSecretValue reads the secret without echoing when stdin is a
// terminal, and falls back to a single line for piped input.
func readSecretValue(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if terminal.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Value: ")
		value, err := terminal.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(value)), nil
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func secretList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	st, err := openConfigStore(cmd.Context())
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	names, err := st.SecretKeys(cmd.Context())
	if err != nil {
		return out.Error("Failed to list secrets", err)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{
			"count":   len(names),
			"secrets": names,
		})
	}

	if len(names) == 0 {
		fmt.Println("No secrets stored")
		return nil
	}

	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func secretDelete(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	name := strings.TrimSpace(args[0])

	st, err := openConfigStore(cmd.Context())
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	if err := st.DeleteSecret(cmd.Context(), name); err != nil {
		if configstore.IsNotFound(err) {
			return out.Error(fmt.Sprintf("No secret named %s", name), nil)
		}
		return out.Error("Failed to delete secret", err)
	}

	return out.Success(fmt.Sprintf("Secret %s deleted", name), map[string]interface{}{
		"name": name,
	})
}

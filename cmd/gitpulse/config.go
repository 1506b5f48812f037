package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/gitpulse/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage gitpulse configuration",
	Long:  `View, validate and initialize gitpulse configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after defaults, config file, environment and
flags are applied. Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every configuration value",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configSetPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Store the Neo4j password in the OS keychain",
	Long: `Stores the Neo4j password in the OS keychain (Keychain on macOS,
Credential Manager on Windows, Secret Service on Linux). The password is read
from the terminal, or from stdin when stdin is not a terminal.`,
	Args: cobra.NoArgs,
	RunE: runConfigSetPassword,
}

var configDeletePasswordCmd = &cobra.Command{
	Use:   "delete-password",
	Short: "Remove the Neo4j password from the OS keychain",
	Args:  cobra.NoArgs,
	RunE:  runConfigDeletePassword,
}

var configForce bool

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetPasswordCmd)
	configCmd.AddCommand(configDeletePasswordCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	shown.Neo4j.Password = config.MaskSecret(cfg.Neo4j.Password)
	if shown.Archive.DSN != "" {
		shown.Archive.DSN = config.MaskSecret(cfg.Archive.DSN)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(&shown); err != nil {
		return err
	}
	return enc.Close()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	vr := cfg.Validate(config.ValidationContextAll)
	out := cmd.OutOrStdout()
	if vr.HasErrors() {
		fmt.Fprint(out, vr.Error())
		return fmt.Errorf("%d configuration error(s)", len(vr.Errors))
	}
	fmt.Fprintln(out, "✅ Configuration is valid")
	for _, w := range vr.Warnings {
		fmt.Fprintf(out, "  ⚠️  %s\n", w)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(".gitpulse", "config.yaml")
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigSetPassword(cmd *cobra.Command, args []string) error {
	km := config.NewKeyringManager()
	if !km.IsAvailable() {
		return fmt.Errorf("no OS keychain available; set NEO4J_PASSWORD instead")
	}

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	if err := km.SaveNeo4jPassword(password); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Neo4j password stored in the OS keychain (%s)\n", config.MaskSecret(password))
	return nil
}

func runConfigDeletePassword(cmd *cobra.Command, args []string) error {
	if err := config.NewKeyringManager().DeleteNeo4jPassword(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Neo4j password removed from the OS keychain")
	return nil
}

// readPassword prompts without echo on a terminal and reads one line otherwise
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Neo4j password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

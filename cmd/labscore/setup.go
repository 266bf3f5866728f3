package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labscore-server/internal/setup"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Register the MCP server with a desktop MCP client",
}

var setupRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Add labscore-mcp to the client configuration",
	RunE:  runSetupRegister,
}

var setupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the client registration",
	RunE:  runSetupStatus,
}

var setupUnregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove labscore-mcp from the client configuration",
	RunE:  runSetupUnregister,
}

var (
	setupConfigPath   string
	setupName         string
	setupBinary       string
	setupRegistryDir  string
	setupInferenceURL string
)

func init() {
	setupCmd.PersistentFlags().StringVar(&setupConfigPath, "client-config", "", "Client config file (default: the desktop client's config for this OS)")
	setupCmd.PersistentFlags().StringVar(&setupName, "name", setup.DefaultServerName, "Server name in the client config")
	setupRegisterCmd.Flags().StringVar(&setupBinary, "binary", "", "Path to labscore-mcp (default: search PATH)")
	setupRegisterCmd.Flags().StringVar(&setupRegistryDir, "registry-dir", "", "Registry directory passed to the server")
	setupRegisterCmd.Flags().StringVar(&setupInferenceURL, "inference-url", "", "Model service URL passed to the server")

	setupCmd.AddCommand(setupRegisterCmd, setupStatusCmd, setupUnregisterCmd)
	rootCmd.AddCommand(setupCmd)
}

func clientConfigPath() (string, error) {
	if setupConfigPath != "" {
		return setupConfigPath, nil
	}
	return setup.DefaultClientConfigPath()
}

func runSetupRegister(cmd *cobra.Command, _ []string) error {
	path, err := clientConfigPath()
	if err != nil {
		return err
	}
	entry, err := setup.Register(path, setup.Options{
		Name:         setupName,
		BinaryPath:   setupBinary,
		DataDir:      dataDir,
		RegistryDir:  setupRegistryDir,
		InferenceURL: setupInferenceURL,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Registered %s in %s. Restart the client to load it.\n", setupName, path)
	return writeOutput(cmd, entry)
}

func runSetupStatus(cmd *cobra.Command, _ []string) error {
	path, err := clientConfigPath()
	if err != nil {
		return err
	}
	status, err := setup.GetStatus(path, setupName)
	if err != nil {
		return err
	}
	return writeOutput(cmd, status)
}

func runSetupUnregister(cmd *cobra.Command, _ []string) error {
	path, err := clientConfigPath()
	if err != nil {
		return err
	}
	removed, err := setup.Unregister(path, setupName)
	if err != nil {
		return err
	}
	return writeOutput(cmd, map[string]any{"name": setupName, "removed": removed})
}

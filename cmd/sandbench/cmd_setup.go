package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/sandbench/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Sandbench Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Provider.BaseURL = prompt(scanner, "Sandbox provider base URL", cfg.Provider.BaseURL)
		cfg.Provider.APIKey = prompt(scanner, "Sandbox provider API key", cfg.Provider.APIKey)

		timeoutStr := prompt(scanner, "Provider request timeout (seconds)", strconv.Itoa(cfg.Provider.TimeoutSeconds))
		if n, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.Provider.TimeoutSeconds = n
		}

		cfg.HTTP.Listen = prompt(scanner, "API listen address", cfg.HTTP.Listen)
		cfg.Pricing.DefaultModel = prompt(scanner, "Default pricing model", cfg.Pricing.DefaultModel)
		cfg.Reaper.Schedule = prompt(scanner, "Reaper schedule", cfg.Reaper.Schedule)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

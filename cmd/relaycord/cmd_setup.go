package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/relaycord/internal/config"
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

		fmt.Println("Relaycord Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		masked := config.MaskValue(cfg.Token)
		if token := prompt(scanner, "Account token", masked); token != masked {
			cfg.Token = token
		}
		cfg.APIBase = prompt(scanner, "API base URL", cfg.APIBase)
		cfg.GatewayURL = prompt(scanner, "Gateway URL", cfg.GatewayURL)

		compress := prompt(scanner, "Compress gateway traffic (true/false)", strconv.FormatBool(cfg.Compress))
		if b, err := strconv.ParseBool(compress); err == nil {
			cfg.Compress = b
		}

		pageSize := prompt(scanner, "History page size", strconv.Itoa(cfg.HistoryPageSize))
		if n, err := strconv.Atoi(pageSize); err == nil && n > 0 {
			cfg.HistoryPageSize = n
		}

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

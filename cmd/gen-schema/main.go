// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the JSON Schema of every workflow input to
// schemas/.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	ep "github.com/holomush/emailpassword/internal/emailpassword"
)

var inputs = map[string]any{
	"start-register":        ep.StartRegisterInput{},
	"email":                 ep.EmailInput{},
	"key":                   ep.KeyInput{},
	"credentials":           ep.CredentialsInput{},
	"start-email-change":    ep.StartEmailChangeInput{},
	"finish-password-reset": ep.FinishPasswordResetInput{},
	"update-password":       ep.UpdatePasswordInput{},
	"update-all-passwords":  ep.UpdateAllPasswordsInput{},
	"user":                  ep.UserInput{},
	"password-change":       ep.PasswordChangeInput{},
	"create-email-password": ep.CreateEmailPasswordInput{},
}

func main() {
	dir := "schemas"
	if err := os.MkdirAll(dir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	for name, input := range inputs {
		schema, err := ep.InputSchema(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s schema: %v\n", name, err)
			os.Exit(1)
		}

		outPath := filepath.Join(dir, name+".schema.json")
		if err := os.WriteFile(outPath, schema, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
}

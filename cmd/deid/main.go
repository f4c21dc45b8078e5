// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"os"

	"github.com/SafeHarborAI/safeharbor/pkg/ux"
)

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(0)
	}
	if errors.Is(err, errPartialFailure) {
		os.Exit(2)
	}
	ux.Error("%v", err)
	os.Exit(1)
}

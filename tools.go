// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build tools
// +build tools

// Package main pins tool dependencies to go.mod.
// The ginkgo CLI runs the integration suites: ginkgo -tags integration ./...
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
)
